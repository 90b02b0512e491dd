package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"unitmon/internal/metrics"
	"unitmon/internal/models"
)

// handleAll answers the recursive aggregation endpoint. The ids parameter
// accumulates the identifiers of nodes already visited on this branch;
// a node that finds itself in the set answers 204 so the caller can stop
// the traversal there instead of looping through a peer cycle.
func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	visited := parseIDs(r.URL.Query().Get("ids"))
	if visited[s.nodeID] {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	var name *string
	if ref := r.URL.Query().Get("ref"); ref != "" {
		name = &ref
	}
	writeJSON(w, http.StatusOK, s.aggregate(r.Context(), visited, name))
}

// aggregate builds this node's tree: its own service statuses plus one
// child per configured peer, visited sequentially in list order. A failed
// peer isolates to its own branch rather than aborting the whole tree.
func (s *Server) aggregate(ctx context.Context, visited map[string]bool, name *string) models.AggregationNode {
	node := models.AggregationNode{
		Name:     name,
		Services: []models.ServiceStatus{},
		Monitors: []models.AggregationNode{},
	}

	host, err := s.hostIP()
	if err != nil {
		s.log.Warn("resolve host address", "err", err)
	}
	for _, svc := range s.services {
		rec, err := s.statuses.Status(ctx, svc)
		if err != nil {
			s.log.Warn("aggregate local status", "service", svc, "err", err)
			continue
		}
		node.Services = append(node.Services, models.ServiceStatus{
			Name:        svc,
			Status:      string(rec.Status),
			ActiveSince: rec.ActiveSince,
			ErrorCount:  rec.ErrorCount,
			Host:        host,
		})
	}

	visited[s.nodeID] = true
	ids := joinIDs(visited)
	for _, peer := range s.monitors {
		child, skip, err := s.fetchPeerTree(ctx, peer, ids)
		if skip {
			continue
		}
		if err != nil {
			s.log.Warn("aggregate peer failed", "peer", peer, "err", err)
			ref := peer
			node.Monitors = append(node.Monitors, models.AggregationNode{
				Name:     &ref,
				Services: []models.ServiceStatus{},
				Monitors: []models.AggregationNode{},
				Error:    err.Error(),
			})
			continue
		}
		node.Monitors = append(node.Monitors, child)
	}
	return node
}

// fetchPeerTree calls one peer's aggregation endpoint. skip is true when
// the peer reported the branch as already visited (204).
func (s *Server) fetchPeerTree(ctx context.Context, peer, ids string) (models.AggregationNode, bool, error) {
	q := url.Values{}
	q.Set("ids", ids)
	q.Set("ref", peer)
	u := strings.TrimRight(peer, "/") + "/all?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.AggregationNode{}, false, fmt.Errorf("build peer request: %w", err)
	}
	res, err := s.client.Do(req)
	metrics.ObservePeerRequest(err)
	if err != nil {
		return models.AggregationNode{}, false, fmt.Errorf("peer unreachable: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNoContent {
		return models.AggregationNode{}, true, nil
	}
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return models.AggregationNode{}, false, fmt.Errorf("peer status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var child models.AggregationNode
	if err := json.NewDecoder(res.Body).Decode(&child); err != nil {
		return models.AggregationNode{}, false, fmt.Errorf("decode peer response: %w", err)
	}
	return child, false, nil
}

func parseIDs(raw string) map[string]bool {
	out := map[string]bool{}
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out[id] = true
		}
	}
	return out
}

func joinIDs(ids map[string]bool) string {
	keys := make([]string, 0, len(ids))
	for id := range ids {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
