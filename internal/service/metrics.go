package service

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/docrag/internal/rag"
)

var (
	// QueriesTotal counts queries.
	// Labels: result (answered, no_candidates, error)
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docrag",
			Subsystem: "query",
			Name:      "total",
			Help:      "Total number of queries by result",
		},
		[]string{"result"},
	)

	// QueryDuration tracks end-to-end query latency including synthesis.
	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docrag",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Duration of queries in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 3, 9),
		},
	)

	// IndexSegments is the segment count of the live snapshot.
	IndexSegments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docrag",
			Subsystem: "index",
			Name:      "segments",
			Help:      "Number of segments in the live index",
		},
	)

	// IndexDocuments is the document count of the live snapshot.
	IndexDocuments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docrag",
			Subsystem: "index",
			Name:      "documents",
			Help:      "Number of documents in the live index",
		},
	)
)

func recordQuery(err error, d time.Duration) {
	switch {
	case err == nil:
		QueriesTotal.WithLabelValues("answered").Inc()
	case errors.Is(err, rag.ErrNoCandidates):
		QueriesTotal.WithLabelValues("no_candidates").Inc()
	default:
		QueriesTotal.WithLabelValues("error").Inc()
	}
	QueryDuration.Observe(d.Seconds())
}
