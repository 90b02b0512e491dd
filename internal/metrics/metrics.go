package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels peer calls that returned a response.
	OutcomeSuccess = "success"
	// OutcomeError labels peer calls that failed or timed out.
	OutcomeError = "error"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "unitmon",
			Name:      "http_requests_total",
			Help:      "Requests handled, partitioned by path and status code.",
		},
		[]string{"path", "status"},
	)

	lockWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "unitmon",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a per-service cache lock.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	peerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "unitmon",
			Name:      "peer_requests_total",
			Help:      "Outbound proxy and aggregation calls, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches unitmon collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		httpRequestsTotal,
		lockWaitSeconds,
		peerRequestsTotal,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRequest records one handled HTTP request.
func ObserveRequest(path string, status int) {
	httpRequestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
}

// ObserveLockWait records how long a caller waited for a cache lock.
func ObserveLockWait(d time.Duration) {
	lockWaitSeconds.Observe(d.Seconds())
}

// ObservePeerRequest records one outbound peer call outcome.
func ObservePeerRequest(err error) {
	if err != nil {
		peerRequestsTotal.WithLabelValues(OutcomeError).Inc()
		return
	}
	peerRequestsTotal.WithLabelValues(OutcomeSuccess).Inc()
}
