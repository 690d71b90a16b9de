package uploads

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Operations    *prometheus.CounterVec
	BytesUploaded prometheus.Counter
	Reaped        *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetpipe",
			Subsystem: "uploads",
			Name:      "operations_total",
			Help:      "Upload session operations, by operation and error kind.",
		}, []string{"operation", "result"}),
		BytesUploaded: f.NewCounter(prometheus.CounterOpts{
			Namespace: "assetpipe",
			Subsystem: "uploads",
			Name:      "completed_bytes_total",
			Help:      "Total size of completed uploads.",
		}),
		Reaped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetpipe",
			Subsystem: "uploads",
			Name:      "reaped_sessions_total",
			Help:      "Expired upload sessions deleted by the reaper, by whether the remote upload was aborted.",
		}, []string{"remote"}),
	}
}
