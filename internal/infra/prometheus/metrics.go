package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stage metrics, registered on the default registry and
// exposed by the /metrics server.
var (
	MentionsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mentionrank_mentions_ingested_total",
		Help: "Raw mention candidates accepted by the ingestor.",
	})

	URLsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mentionrank_urls_resolved_total",
		Help: "URL resolution outcomes by state (cached, product, non_product, unresolved, invalid).",
	}, []string{"outcome"})

	MentionsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mentionrank_mentions_dropped_total",
		Help: "Mentions dropped before counting, by reason.",
	}, []string{"reason"})

	CountersPromoted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mentionrank_counters_promoted_total",
		Help: "Counters promoted to the durable tier.",
	})

	CountersFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mentionrank_counters_flushed_total",
		Help: "Dirty counters flushed to Postgres by the periodic job.",
	})

	SnapshotsEnriched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mentionrank_snapshots_enriched_total",
		Help: "Ranking snapshots completed with product metadata.",
	})

	SnapshotsTombstoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mentionrank_snapshots_tombstoned_total",
		Help: "Ranking snapshots permanently banned after retry exhaustion.",
	})

	SweeperPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mentionrank_sweeper_pages_total",
		Help: "Retention pages deleted, by model kind.",
	}, []string{"kind"})

	SubjectsBanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mentionrank_subjects_banned_total",
		Help: "Subjects added to the ban list, by kind.",
	}, []string{"kind"})
)
