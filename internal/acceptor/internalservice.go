package acceptor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"tidecast/internal/authtoken"
	"tidecast/internal/config"
)

// InternalService is the bearer-token-gated HTTP handler for the
// internal-service listener: the health/reload/config-dump surface other
// deployment tooling drives, kept off the public HTTP-API listener
// entirely rather than shared and access-controlled by path.
type InternalService struct {
	tokenHash string
	engine    *config.Engine
	logger    *slog.Logger

	mu            sync.Mutex
	lastReloadErr error
	lastReloadAt  time.Time
	lastReloadOK  time.Time
}

// NewInternalService constructs a handler that authorizes requests against
// token and serves reload/status against engine. token is hashed once at
// construction time; the raw value is never retained.
func NewInternalService(token string, engine *config.Engine, logger *slog.Logger) (*InternalService, error) {
	hash, err := authtoken.Hash(token)
	if err != nil {
		return nil, err
	}
	return &InternalService{tokenHash: hash, engine: engine, logger: logger}, nil
}

func (s *InternalService) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/internal/healthz", s.healthz)
	mux.HandleFunc("/internal/reload", s.authorized(s.reload))
	mux.HandleFunc("/internal/config", s.authorized(s.showConfig))
	return mux
}

func (s *InternalService) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.isAuthorized(r.Header.Get("Authorization")) {
			if s.logger != nil {
				s.logger.Info("unauthorized internal service request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *InternalService) isAuthorized(header string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" || s.tokenHash == "" {
		return false
	}
	return authtoken.Verify(s.tokenHash, token) == nil
}

func (s *InternalService) reload(w http.ResponseWriter, r *http.Request) {
	changes, err := s.engine.Reload()
	s.mu.Lock()
	if err != nil {
		s.lastReloadErr = err
	} else {
		s.lastReloadErr = nil
		s.lastReloadAt = time.Now()
		s.lastReloadOK = s.lastReloadAt
	}
	s.mu.Unlock()

	if err != nil {
		if s.logger != nil {
			s.logger.Error("reload failed", "error", err)
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": len(changes)})
}

func (s *InternalService) showConfig(w http.ResponseWriter, r *http.Request) {
	active := s.engine.Active()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(config.Persist(active)))
}

func (s *InternalService) healthz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	lastErr := s.lastReloadErr
	lastOK := s.lastReloadOK
	s.mu.Unlock()

	status := http.StatusOK
	payload := map[string]any{"status": "ok", "lastReloadOK": lastOK}
	if lastErr != nil {
		status = http.StatusServiceUnavailable
		payload["status"] = "degraded"
		payload["lastReloadError"] = lastErr.Error()
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	buf, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf)
}
