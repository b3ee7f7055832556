package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts ingestion calls.
	// Labels: result (committed, noop, error)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Total number of ingestion runs by result",
		},
		[]string{"result"},
	)

	// DocumentsTotal counts classified documents.
	// Labels: kind (NEW, CHANGED, UNCHANGED)
	DocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total number of documents seen by classification",
		},
		[]string{"kind"},
	)

	// SegmentsTotal counts segments written to or removed from the index.
	// Labels: op (added, removed)
	SegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "ingest",
			Name:      "segments_total",
			Help:      "Total number of segments added or removed",
		},
		[]string{"op"},
	)

	// RunDuration tracks how long ingestion runs take.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docrag",
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Duration of ingestion runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)
)

func recordRun(r *Report, err error) {
	switch {
	case err != nil:
		RunsTotal.WithLabelValues("error").Inc()
		return
	case r.Committed():
		RunsTotal.WithLabelValues("committed").Inc()
	default:
		RunsTotal.WithLabelValues("noop").Inc()
	}
	for _, e := range r.Entries {
		DocumentsTotal.WithLabelValues(e.Kind.String()).Inc()
	}
	SegmentsTotal.WithLabelValues("added").Add(float64(r.SegmentsAdded))
	SegmentsTotal.WithLabelValues("removed").Add(float64(r.SegmentsRemoved))
	RunDuration.Observe(r.Duration.Seconds())
}
