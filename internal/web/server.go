package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"unitmon/internal/cache"
	"unitmon/internal/health"
	"unitmon/internal/journal"
	"unitmon/internal/models"
	"unitmon/internal/systemd"
)

// StatusSource computes a fresh health record for one unit.
// Implemented by health.Service.
type StatusSource interface {
	Status(ctx context.Context, unit string) (health.Record, error)
}

type Server struct {
	statuses StatusSource
	errors   health.ErrorSource
	log      *slog.Logger

	services  []string
	monitors  []string
	nodeID    string
	indexFile string
	hostIP    func() (string, error)
	client    *http.Client
}

func NewServer(statuses StatusSource, errors health.ErrorSource, services, monitors []string, nodeID, indexFile string, hostIP func() (string, error), peerTimeout time.Duration, logger *slog.Logger) *Server {
	return &Server{
		statuses:  statuses,
		errors:    errors,
		log:       logger,
		services:  services,
		monitors:  monitors,
		nodeID:    nodeID,
		indexFile: indexFile,
		hostIP:    hostIP,
		client:    &http.Client{Timeout: peerTimeout},
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/services", s.proxied(s.handleServices))
	mux.HandleFunc("/monitors", s.proxied(s.handleMonitors))
	mux.HandleFunc("/host", s.proxied(s.handleHost))
	mux.HandleFunc("/status", s.proxied(s.handleStatus))
	mux.HandleFunc("/errors", s.proxied(s.handleErrors))
	mux.HandleFunc("/all", s.proxied(s.handleAll))
	return logMiddleware(methodGuard(mux), s.log)
}

// proxied wraps a local handler so any endpoint can be single-hop
// forwarded to a named peer via the monitor query parameter.
func (s *Server) proxied(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if target := r.URL.Query().Get("monitor"); target != "" {
			s.proxy(w, r, target)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "unknown path: "+r.URL.Path)
		return
	}
	body, err := os.ReadFile(s.indexFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "no document available")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Connection", "close")
	_, _ = w.Write(body)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.services))
}

func (s *Server) handleMonitors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.monitors))
}

func (s *Server) handleHost(w http.ResponseWriter, r *http.Request) {
	host, err := s.hostIP()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"host": host})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if service == "" {
		writeError(w, http.StatusBadRequest, "missing required parameter: service")
		return
	}
	rec, err := s.statuses.Status(r.Context(), service)
	if err != nil {
		s.writeServiceError(w, service, err)
		return
	}
	host, err := s.hostIP()
	if err != nil {
		// The verdict is still useful without an address; report it with
		// an empty host rather than failing the whole request.
		s.log.Warn("resolve host address", "err", err)
	}
	writeJSON(w, http.StatusOK, models.ServiceStatus{
		Name:        service,
		Status:      string(rec.Status),
		ActiveSince: rec.ActiveSince,
		ErrorCount:  rec.ErrorCount,
		Host:        host,
	})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if service == "" {
		writeError(w, http.StatusBadRequest, "missing required parameter: service")
		return
	}
	blocks, err := s.errors.ErrorsSince(r.Context(), service)
	if err != nil {
		s.writeServiceError(w, service, err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Connection", "close")
		for i, b := range blocks {
			if i > 0 {
				_, _ = fmt.Fprint(w, "\n\n")
			}
			_, _ = fmt.Fprint(w, b)
		}
		if len(blocks) > 0 {
			_, _ = fmt.Fprint(w, "\n")
		}
		return
	}
	writeJSON(w, http.StatusOK, nonNil(blocks))
}

func (s *Server) writeServiceError(w http.ResponseWriter, service string, err error) {
	switch {
	case errors.Is(err, systemd.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown service: "+service)
	case errors.Is(err, cache.ErrBusy):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "error data busy, retry later: "+service)
	case errors.Is(err, systemd.ErrToolUnavailable), errors.Is(err, journal.ErrToolUnavailable):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Connection", "close")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
