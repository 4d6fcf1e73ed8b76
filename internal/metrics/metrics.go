package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mailsync"

var (
	syncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_runs_total",
		Help:      "Sync cycles by kind and outcome.",
	}, []string{"kind", "outcome"})

	syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Duration of successful sync cycles.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"kind"})

	messagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_ingested_total",
		Help:      "Messages written or removed by sync cycles.",
	}, []string{"op"})

	syncRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_retries_total",
		Help:      "Provider calls retried after a transient error.",
	})

	indexBuilds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "index_build_duration_seconds",
		Help:      "Time spent building an account search index.",
		Buckets:   prometheus.DefBuckets,
	})

	indexedAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "index_cached_accounts",
		Help:      "Accounts with a search index entry in memory.",
	})

	searches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "searches_total",
		Help:      "Search requests by outcome.",
	}, []string{"outcome"})
)

const (
	OutcomeSuccess  = "success"
	OutcomeAuth     = "auth_error"
	OutcomeDegraded = "degraded"
	OutcomeStore    = "store_error"
	OutcomeError    = "error"
	OutcomeEmpty    = "empty"
)

func ObserveSync(kind, outcome string, duration time.Duration) {
	syncRuns.WithLabelValues(kind, outcome).Inc()
	if outcome == OutcomeSuccess {
		syncDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

func AddMessages(upserted, deleted int) {
	messagesIngested.WithLabelValues("upsert").Add(float64(upserted))
	messagesIngested.WithLabelValues("delete").Add(float64(deleted))
}

func IncSyncRetry() {
	syncRetries.Inc()
}

func ObserveIndexBuild(duration time.Duration) {
	indexBuilds.Observe(duration.Seconds())
}

func SetIndexedAccounts(n int) {
	indexedAccounts.Set(float64(n))
}

func IncSearch(outcome string) {
	searches.WithLabelValues(outcome).Inc()
}
