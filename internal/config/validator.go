package config

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"tidecast/internal/errtax"
)

// schema describes the set of directive names recognized at one level of
// the tree, plus the schema of each named child that introduces a nested
// level (a block directive). A name absent from both allowed and nested is
// rejected: this is what "schema closure" means in §4.3 — every directive
// that reaches validation must be named by the schema, directly or because
// an ancestor schema declared it as a pass-through level.
type schema struct {
	allowed map[string]bool
	nested  map[string]*schema
}

func (s *schema) recognizes(name string) bool {
	if s.allowed[name] {
		return true
	}
	_, ok := s.nested[name]
	return ok
}

var rootSchema = &schema{
	allowed: set("listen", "max_connections", "daemon", "pithy_print_ms", "pid",
		"chunk_size", "ff_log_dir", "srs_log_tank", "srs_log_file",
		"srs_log_level", "utc_time", "work_dir", "asprocess",
		"server_id", "heartbeat", "stats", "http_api", "https_api",
		"http_server", "https_server", "stream_caster", "rtc_server",
		"exporter", "service_server", "force_grace_quit", "grace_start_wait",
		"grace_final_wait"),
	nested: map[string]*schema{
		"vhost":          vhostSchema,
		"heartbeat":      leafSchema("enabled", "interval", "url", "device_id", "summaries"),
		"stats":          leafSchema("enabled", "network", "disk"),
		"http_api":       leafSchema("enabled", "listen", "crossdomain", "raw_api"),
		"https_api":      leafSchema("enabled", "listen", "key", "cert"),
		"http_server":    leafSchema("enabled", "listen", "dir"),
		"https_server":   leafSchema("enabled", "listen", "key", "cert"),
		"stream_caster":  leafSchema("enabled", "caster", "output", "listen", "sip"),
		"rtc_server":     leafSchema("enabled", "listen", "candidate", "ecdsa"),
		"exporter":       leafSchema("enabled", "listen", "label", "tag"),
		"service_server": leafSchema("enabled", "listen", "token"),
	},
}

var vhostSchema = &schema{
	allowed: set("enabled", "chunk_size", "tcp_nodelay", "min_latency"),
	nested: map[string]*schema{
		"refer":      leafSchema("enabled", "all", "publish", "play"),
		"forward":    {allowed: set("enabled"), nested: map[string]*schema{"destination": leafSchema()}},
		"http_static": leafSchema("enabled", "mount"),
		"http_remux": leafSchema("enabled", "mount"),
		"hls":        leafSchema("enabled", "hls_path", "hls_fragment", "hls_window"),
		"dash":       leafSchema("enabled", "dash_fragment", "dash_update_period", "dash_timeshift", "dash_path", "dash_mpd_file"),
		"hds":        leafSchema("enabled", "hds_path", "hds_fragment", "hds_window"),
		"dvr":        leafSchema("enabled", "dvr_path", "dvr_plan", "dvr_apply"),
		"exec":       leafSchema("enabled", "publish"),
		"ingest":     leafSchema("enabled", "input", "ffmpeg", "engine"),
		"transcode":  leafSchema("enabled", "ffmpeg", "engine"),
		"cluster":    leafSchema("mode", "origin", "token_traverse", "vhost", "debug_srs_upnode"),
		"publish":    leafSchema("mr", "mr_latency", "firstpkt_timeout", "normal_timeout"),
		"play": leafSchema("time_jitter", "mix_correct", "atc", "atc_auto", "mw_latency",
			"gop_cache", "queue_length", "send_min_interval", "reduce_sequence_header"),
		"rtc": leafSchema("enabled", "nack", "nack_no_copy", "twcc", "rtmp_to_rtc", "keep_bframe"),
	},
}

func leafSchema(names ...string) *schema {
	return &schema{allowed: set(names...)}
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// Validate walks root against the canonical schema and reports the first
// directive name it does not recognize at its level, then runs the
// additional semantic rules of §4.3. Call Validate after Transform, never
// before: validation is defined against the canonical schema, not any
// legacy form. envOnly mirrors the -e/--env-only CLI flag: when set, a
// missing top-level listen is not an error, since env-only deployments
// configure their listeners entirely through environment variables.
func Validate(root *Directive, envOnly bool) error {
	if err := validateLevel(root, rootSchema, "root"); err != nil {
		return err
	}
	return validateRules(root, envOnly)
}

func validateLevel(d *Directive, s *schema, path string) error {
	for _, c := range d.Children {
		if !s.recognizes(c.Name) {
			return errtax.Newf(errtax.SystemConfigInvalid, "", "line %d: unknown directive %q in %s", c.Line, c.Name, path)
		}
		if child, ok := s.nested[c.Name]; ok {
			if err := validateLevel(c, child, fmt.Sprintf("%s.%s", path, c.Name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// localInterfaceAddrsFunc discovers local IP interfaces for the
// stats.network range check. Overridden in tests to avoid depending on the
// host's actual network configuration.
var localInterfaceAddrsFunc = net.InterfaceAddrs

// rlimitNoFileFunc returns the process's soft RLIMIT_NOFILE. Overridden in
// tests to avoid depending on the host's actual resource limits.
var rlimitNoFileFunc = func() (uint64, error) {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return 0, err
	}
	return rlim.Cur, nil
}

// validateRules implements spec §4.3's "Additional validation rules", run
// after schema closure. Every rule here is reproduced from the source's
// Config::CheckConfig/CheckNumberConnections: listen presence and format,
// heartbeat interval, stats network index, HTTP/HTTPS api-vs-server
// consistency, log file path, ingest id uniqueness, chunk_size range
// (warning only), asprocess/daemon exclusivity, and the FD budget check.
func validateRules(root *Directive, envOnly bool) error {
	acc := NewAccessor(root)

	listen := root.Get("listen")
	if !envOnly && (listen == nil || len(listen.Args) == 0) {
		return errtax.Newf(errtax.SystemConfigInvalid, "", "listen requires params")
	}
	if listen != nil {
		for _, ep := range listen.Args {
			if err := validateListenEndpoint(ep); err != nil {
				return errtax.Newf(errtax.SystemConfigInvalid, "", "listen %q: %v", ep, err)
			}
		}
	}

	if acc.Int("TIDECAST_HEARTBEAT_INTERVAL", 10, "heartbeat", "interval") <= 0 {
		return errtax.Newf(errtax.SystemConfigInvalid, "", "invalid heartbeat.interval")
	}

	network := acc.Int("TIDECAST_STATS_NETWORK", 0, "stats", "network")
	if network < 0 {
		return errtax.Newf(errtax.SystemConfigInvalid, "", "invalid stats.network=%d", network)
	}
	if addrs, err := localInterfaceAddrsFunc(); err == nil && network >= len(addrs) {
		return errtax.Newf(errtax.SystemConfigInvalid, "", "invalid stats.network=%d of %d", network, len(addrs))
	}

	if err := validateHTTPConsistency(acc); err != nil {
		return err
	}

	if acc.String("TIDECAST_LOG_TANK", "", "srs_log_tank") == "file" && acc.String("TIDECAST_LOG_FILE", "", "srs_log_file") == "" {
		return errtax.Newf(errtax.SystemConfigInvalid, "", "log file is empty")
	}

	for _, vhost := range root.GetAll("vhost") {
		if err := validateVhostIngestIDs(vhost); err != nil {
			return err
		}
	}

	validateChunkSizeRange(acc, root)

	if acc.Bool("TIDECAST_ASPROCESS", "asprocess") && acc.Bool("TIDECAST_DAEMON", "daemon") {
		return errtax.Newf(errtax.SystemConfigInvalid, "", "daemon conflicts with asprocess")
	}

	maxConnections := acc.Int("TIDECAST_MAX_CONNECTIONS", 1000, "max_connections")
	if maxConnections <= 0 {
		return errtax.Newf(errtax.SystemConfigInvalid, "", "max_connections=%d is invalid", maxConnections)
	}
	if openMax, err := rlimitNoFileFunc(); err == nil {
		required := uint64(maxConnections + 128)
		if required >= openMax {
			return errtax.Newf(errtax.SystemConfigInvalid, "", "%d exceed max open files=%d", required, openMax)
		}
	}

	return nil
}

// validateListenEndpoint checks one listen argument against the
// "[host:]port" grammar: the port must be > 0 and the host, if present,
// must be a syntactically valid IP literal or "*".
func validateListenEndpoint(ep string) error {
	host, portStr, err := net.SplitHostPort(ep)
	if err != nil {
		host, portStr = "", ep
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return fmt.Errorf("port must be > 0")
	}
	if host != "" && host != "*" && net.ParseIP(host) == nil {
		return fmt.Errorf("host %q is not a valid IP literal or \"*\"", host)
	}
	return nil
}

// validateHTTPConsistency reproduces the source's "for same http(s),
// api == server" rule: when HTTP API and HTTP server share a listen
// endpoint, their HTTPS counterparts must also share one, and conversely.
// HTTPS variants additionally require their HTTP base to be enabled.
func validateHTTPConsistency(acc *Accessor) error {
	api := acc.String("TIDECAST_HTTP_API_LISTEN", "", "http_api", "listen")
	server := acc.String("TIDECAST_HTTP_SERVER_LISTEN", "", "http_server", "listen")
	apis := acc.String("TIDECAST_HTTPS_API_LISTEN", "", "https_api", "listen")
	servers := acc.String("TIDECAST_HTTPS_SERVER_LISTEN", "", "https_server", "listen")

	if api == server && apis != servers {
		return errtax.Newf(errtax.SystemConfigInvalid, "", "for same http, https api(%s) != server(%s)", apis, servers)
	}
	if apis == servers && api != server {
		return errtax.Newf(errtax.SystemConfigInvalid, "", "for same https, http api(%s) != server(%s)", api, server)
	}

	if acc.Bool("TIDECAST_HTTPS_API_ENABLED", "https_api", "enabled") && !acc.Bool("TIDECAST_HTTP_API_ENABLED", "http_api", "enabled") {
		return errtax.Newf(errtax.SystemConfigInvalid, "", "https api depends on http")
	}
	if acc.Bool("TIDECAST_HTTPS_SERVER_ENABLED", "https_server", "enabled") && !acc.Bool("TIDECAST_HTTP_SERVER_ENABLED", "http_server", "enabled") {
		return errtax.Newf(errtax.SystemConfigInvalid, "", "https server depends on http")
	}
	return nil
}

// validateVhostIngestIDs rejects a vhost with two or more ingest entries
// sharing the same id (first argument).
func validateVhostIngestIDs(vhost *Directive) error {
	seen := make(map[string]bool)
	for _, ingest := range vhost.GetAll("ingest") {
		id := ingest.Arg(0)
		if seen[id] {
			return errtax.Newf(errtax.SystemConfigInvalid, "", "vhost %s: duplicated ingest id %q", vhost.Arg(0), id)
		}
		seen[id] = true
	}
	return nil
}

// chunkSizeMin and chunkSizeMax bound the RTMP chunk size; values outside
// this range are a warning, not a validation failure.
const (
	chunkSizeMin = 128
	chunkSizeMax = 65536
)

// validateChunkSizeRange warns (does not fail) when the global or any
// per-vhost chunk_size falls outside [chunkSizeMin, chunkSizeMax].
func validateChunkSizeRange(acc *Accessor, root *Directive) {
	global := acc.Int("TIDECAST_CHUNK_SIZE", 60000, "chunk_size")
	if global < chunkSizeMin || global > chunkSizeMax {
		slog.Warn("config: chunk_size outside recommended range", "scope", "global", "value", global, "min", chunkSizeMin, "max", chunkSizeMax)
	}
	for _, vhost := range root.GetAll("vhost") {
		cs := vhost.Get("chunk_size")
		if cs == nil || len(cs.Args) == 0 {
			continue
		}
		if n, err := strconv.Atoi(cs.Args[0]); err == nil && (n < chunkSizeMin || n > chunkSizeMax) {
			slog.Warn("config: chunk_size outside recommended range", "vhost", vhost.Arg(0), "value", n, "min", chunkSizeMin, "max", chunkSizeMax)
		}
	}
}
