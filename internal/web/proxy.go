package web

import (
	"io"
	"net/http"
	"strings"

	"unitmon/internal/metrics"
)

// proxy forwards the request to a single named peer, stripping the
// monitor parameter so the peer serves it as a local call, and relays
// the peer's status, headers, and body unmodified. No retries; any
// transport failure is an upstream error.
func (s *Server) proxy(w http.ResponseWriter, r *http.Request, target string) {
	q := r.URL.Query()
	q.Del("monitor")
	u := strings.TrimRight(target, "/") + r.URL.Path
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, u, nil)
	if err != nil {
		writeError(w, http.StatusBadGateway, "invalid monitor url: "+target)
		return
	}
	res, err := s.client.Do(req)
	metrics.ObservePeerRequest(err)
	if err != nil {
		s.log.Warn("proxy forward failed", "target", target, "err", err)
		writeError(w, http.StatusBadGateway, "monitor unreachable: "+target)
		return
	}
	defer res.Body.Close()

	for key, values := range res.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		s.log.Warn("proxy copy interrupted", "target", target, "err", err)
	}
}
