package engine

import (
	"strconv"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel = "error_type"
	levelLabel   = "level"
	queryLabel   = "query"

	querySphere = "sphere"
	queryTime   = "time"
	queryChunks = "chunks"
	queryYear   = "year"
	queryLOD    = "lod"
)

var (
	snapshotBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "snapshot_build_duration",
		Help:    "The time to build a snapshot, in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	snapshotBuildErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_build_errors",
		Help: "The errors that occured while building a snapshot.",
	}, []string{
		errTypeLabel,
	})

	snapshotPoints = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snapshot_points",
		Help: "The number of points in the current snapshot.",
	})

	gridPopulatedCells = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_populated_cells",
		Help: "The number of populated cells in the spatial grid.",
	})

	lodLevelSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lod_level_size",
		Help: "The number of points of a level of detail.",
	}, []string{
		levelLabel,
	})

	queryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "query_latency",
		Help:    "The time to run a query, in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{
		queryLabel,
	})

	queryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queries",
		Help: "The number of queries run.",
	}, []string{
		queryLabel,
	})

	lodBudgetExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lod_budget_exceeded",
		Help: "The number of level selections where no level fit the instance budget.",
	})
)

func instrumentBuild(s *Snapshot, duration time.Duration) {
	snapshotBuildDuration.Observe(duration.Seconds())
	snapshotPoints.Set(float64(s.Len()))
	gridPopulatedCells.Set(float64(s.grid.Stats().PopulatedCells))

	for _, l := range s.lod.Levels() {
		lodLevelSize.
			With(prometheus.Labels{
				levelLabel: strconv.Itoa(l.ID),
			}).
			Set(float64(l.Points.Len()))
	}
}

func instrumentBuildFailure(err error) {
	snapshotBuildErrors.
		With(prometheus.Labels{
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}

func instrumentQuery(query string, start time.Time) {
	labels := prometheus.Labels{
		queryLabel: query,
	}
	queryLatency.With(labels).Observe(time.Since(start).Seconds())
	queryCount.With(labels).Inc()
}

func instrumentBudgetExceeded() {
	lodBudgetExceeded.Inc()
}
