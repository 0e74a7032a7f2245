package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	triggerInitial  = "initial"
	triggerPrefetch = "prefetch"
	triggerReset    = "reset"
)

var (
	fetchesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrollfeed_fetches_total",
		Help: "Page fetches issued by feed controllers, by what triggered them",
	}, []string{"trigger"})

	fetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrollfeed_fetch_failures_total",
		Help: "Page fetches that failed, by error kind",
	}, []string{"kind"})

	itemsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scrollfeed_items_merged_total",
		Help: "Items appended to a feed",
	})

	itemsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scrollfeed_items_duplicate_total",
		Help: "Items dropped because their identity was already in the feed",
	})

	staleResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scrollfeed_stale_results_total",
		Help: "Fetch results discarded because the feed was reset or closed meanwhile",
	})

	visibilityDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scrollfeed_visibility_dropped_total",
		Help: "Trigger-item visibility events dropped because a fetch was in flight",
	})
)
