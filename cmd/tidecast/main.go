// Command tidecast runs the live-media streaming server: it resolves the
// configuration file, loads and validates it, and runs until a quit signal
// is processed. Flag parsing, config search order, and the signal table
// follow spec §6; the firstNonEmpty precedence helper is adapted from the
// teacher's cmd/server/main.go.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"tidecast/internal/cluster"
	"tidecast/internal/config"
	"tidecast/internal/ingestproc"
	"tidecast/internal/observability/logging"
	"tidecast/internal/observability/metrics"
	"tidecast/internal/server"
	"tidecast/internal/statsdb"
)

// version and signature are reported by -v/-V and -g/-G respectively, the
// way srs_info.pithy/the SRS signature string is reported by the process
// this module descends from.
const (
	version   = "1.0.0"
	signature = "TideCast/1.0.0"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("tidecast", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.Usage = func() { printUsage(flags) }

	var (
		help       = flags.BoolP("help", "h", false, "show help, exit 0")
		helpQ      = flags.BoolP("help-q", "?", false, "show help, exit 0")
		showVer    = flags.BoolP("version", "v", false, "show version string, exit 0")
		showVerCap = flags.BoolP("version-cap", "V", false, "show version string, exit 0")
		showSig    = flags.BoolP("signature", "g", false, "show server signature, exit 0")
		showSigCap = flags.BoolP("signature-cap", "G", false, "show server signature, exit 0")
		envOnly    = flags.BoolP("env-only", "e", false, "env-only mode: ignore config file if present")
		testOnly   = flags.BoolP("test", "t", false, "test configuration (parse + transform + validate), exit 0 on ok")
		confPath   = flags.StringP("conf", "c", "", "configuration file path")
	)

	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if len(args) == 0 {
		printUsage(flags)
		return 1
	}
	if *help || *helpQ {
		printUsage(flags)
		return 0
	}
	if *showVer || *showVerCap {
		fmt.Println(version)
		return 0
	}
	if *showSig || *showSigCap {
		fmt.Println(signature)
		return 0
	}

	logLevel := firstNonEmpty(os.Getenv("TIDECAST_LOG_LEVEL"), "info")
	logger := logging.Init(logging.Config{Level: logLevel})

	var engine *config.Engine
	var resolvedPath string
	if *envOnly {
		// env-only mode still needs a tree to read accessors against; an
		// empty root satisfies every accessor's env > tree > default
		// precedence since the tree branch never matches.
		engine = config.NewEngine("", emptyFileReader{})
		engine.SetEnvOnly(true)
	} else {
		path, err := resolveConfigPath(*confPath, osFileReader{})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		resolvedPath = path
		engine = config.NewEngine(resolvedPath, osFileReader{})
	}
	if err := engine.Load(); err != nil {
		logger.Error("configuration invalid", "error", err)
		return 1
	}

	if *testOnly {
		fmt.Println("configuration ok")
		return 0
	}

	root := engine.Active()
	acc := config.NewAccessor(root)

	serverID, err := resolveServerID(acc)
	if err != nil {
		logger.Error("failed to resolve server id", "error", err)
		return 1
	}
	logger = logger.With("server_id", serverID)

	recorder := metrics.Default()

	cfg := server.Config{
		Engine:         engine,
		Logger:         logger,
		Metrics:        recorder,
		ServerID:       serverID,
		ForceGraceQuit: acc.Bool("TIDECAST_FORCE_GRACE_QUIT", "force_grace_quit"),
	}
	if !*envOnly {
		cfg.ConfigPath = resolvedPath
	}

	if dsn := firstNonEmpty(os.Getenv("TIDECAST_POSTGRES_DSN")); dsn != "" {
		store, err := openStatsStore(dsn)
		if err != nil {
			logger.Error("failed to open stats store", "error", err)
			return 1
		}
		defer store.Close(context.Background())
		cfg.Stats = store
	}

	if addr := firstNonEmpty(os.Getenv("TIDECAST_CLUSTER_REDIS_ADDR")); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		defer client.Close()
		cfg.ClusterRegistry = cluster.NewRedisRegistry(client)
	}

	cfg.Ingest = ingestproc.NewManager(logging.WithComponent(logger, "ingest"), recorder)

	srv, err := server.New(cfg)
	if err != nil {
		logger.Error("failed to initialize server", "error", err)
		return 1
	}

	logger.Info("tidecast starting", "listen", listenSummary(root), "config", resolvedPath)
	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server exited with error", "error", err)
		return 1
	}
	logger.Info("tidecast stopped")
	return 0
}

func printUsage(flags *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: tidecast [-?hvVgGet] -c <config-file>")
	flags.PrintDefaults()
}

// resolveConfigPath implements the search order of spec §6: the
// user-specified path first, then (if it names a docker.conf) the
// sibling srs.conf, then the compiled-in defaults. The first path that
// exists wins; a fallback away from the user's own path is warned about.
func resolveConfigPath(userPath string, reader config.FileReader) (string, error) {
	candidates := []string{}
	if userPath != "" {
		candidates = append(candidates, userPath)
		if strings.HasSuffix(userPath, "docker.conf") {
			candidates = append(candidates, filepath.Join(filepath.Dir(userPath), "srs.conf"))
		}
	}
	candidates = append(candidates, "/conf.conf", "/etc/srs/srs.conf")

	for _, path := range candidates {
		if _, err := reader.ReadFile(path); err == nil {
			if userPath != "" && path != userPath {
				fmt.Fprintf(os.Stderr, "warning: %s not found, falling back to %s\n", userPath, path)
			}
			return path, nil
		}
	}
	return "", fmt.Errorf("no configuration file found (tried %s)", strings.Join(candidates, ", "))
}

// resolveServerID reads the persisted server id next to the pid file,
// generating and writing one back if absent, per spec §6's persisted
// state layout.
func resolveServerID(acc *config.Accessor) (string, error) {
	pidPath := acc.String("TIDECAST_PID", "", "pid")
	if pidPath == "" {
		pidPath = "./tidecast.pid"
	}
	idPath := strings.TrimSuffix(pidPath, filepath.Ext(pidPath)) + ".id"

	if data, err := os.ReadFile(idPath); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id, err := generateServerID()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(idPath), 0o755); err != nil && !os.IsExist(err) {
		return "", fmt.Errorf("create pid directory: %w", err)
	}
	if err := os.WriteFile(idPath, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("persist server id: %w", err)
	}
	return id, nil
}

const serverIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// generateServerID returns a new "vid-XXXXXXX" id: the vid- prefix plus
// 7 random alphanumeric characters, per spec §6.
func generateServerID() (string, error) {
	var b strings.Builder
	b.WriteString("vid-")
	for i := 0; i < 7; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(serverIDAlphabet))))
		if err != nil {
			return "", err
		}
		b.WriteByte(serverIDAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func openStatsStore(dsn string) (*statsdb.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return statsdb.Open(ctx, dsn)
}

func listenSummary(root *config.Directive) string {
	listen := root.Get("listen")
	if listen == nil {
		return ""
	}
	return strings.Join(listen.Args, ",")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

type osFileReader struct{}

func (osFileReader) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

type emptyFileReader struct{}

func (emptyFileReader) ReadFile(string) ([]byte, error) { return []byte{}, nil }
