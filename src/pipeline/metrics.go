package pipeline

import (
	"git.handmade.network/hmn/assetpipe/src/models"
	"git.handmade.network/hmn/assetpipe/src/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Jobs         *prometheus.CounterVec
	JobDuration  prometheus.Histogram
	DeadLetters  prometheus.Counter
	Renditions   *prometheus.CounterVec
	TileFailures prometheus.Counter
	QueueErrors  prometheus.Counter
}

var _ render.Hooks = &Metrics{}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetpipe",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Render jobs processed, by outcome.",
		}, []string{"outcome"}),
		JobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "assetpipe",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Wall time spent on one render job.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		DeadLetters: f.NewCounter(prometheus.CounterOpts{
			Namespace: "assetpipe",
			Subsystem: "worker",
			Name:      "dead_letters_total",
			Help:      "Render jobs pushed to the dead-letter queue.",
		}),
		Renditions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetpipe",
			Subsystem: "worker",
			Name:      "renditions_total",
			Help:      "Renditions stored, by kind.",
		}, []string{"kind"}),
		TileFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "assetpipe",
			Subsystem: "worker",
			Name:      "tile_failures_total",
			Help:      "Pyramid tiles that failed and were skipped.",
		}),
		QueueErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "assetpipe",
			Subsystem: "worker",
			Name:      "queue_errors_total",
			Help:      "Errors returned by the work queue while dequeuing.",
		}),
	}
}

func (m *Metrics) RenditionCreated(kind models.RenditionKind) {
	m.Renditions.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) TileFailed() {
	m.TileFailures.Inc()
}
