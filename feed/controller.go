package feed

import (
	"context"
	"scrollfeed/media"
	"sync"

	log "github.com/sirupsen/logrus"
)

// The next page is requested when the item at 85% of the feed becomes visible
const (
	prefetchNumerator   = 85
	prefetchDenominator = 100
)

// TriggerIndex returns floor(count * 0.85) without going through floats
func TriggerIndex(count int) int {
	return count * prefetchNumerator / prefetchDenominator
}

// Controller owns the feed of one profile view. It merges fetched pages into
// an ordered, deduplicated list and decides when the next page is needed.
// All methods are safe for concurrent use and none of them blocks on a fetch.
type Controller struct {
	fetcher  Fetcher
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	idle     *sync.Cond
	inflight int
	subject  string
	mode     FilterMode
	side     SideConfig
	items    []media.Item
	seen     map[media.Key]struct{}
	cursor   string
	fetching bool
	closed   bool

	// generation changes on every reset, results of older generations are stale
	generation uint64
	version    uint64
}

type fetchJob struct {
	generation uint64
	trigger    string
	req        PageRequest
}

// NewController returns an empty controller. A nil observer is allowed.
func NewController(fetcher Fetcher, observer Observer) *Controller {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		fetcher:  fetcher,
		observer: observer,
		ctx:      ctx,
		cancel:   cancel,
		seen:     make(map[media.Key]struct{}),
	}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// LoadInitial requests the first page of subject. It returns false without
// doing anything while a fetch is in flight. A different subject, mode or
// side config invalidates the loaded feed like a reload does.
func (c *Controller) LoadInitial(subject string, mode FilterMode, side SideConfig) bool {
	c.mu.Lock()
	if c.closed || c.fetching {
		c.mu.Unlock()
		return false
	}
	if c.subject != "" && (subject != c.subject || mode != c.mode || side != c.side) {
		c.subject = subject
		c.mode = mode
		c.side = side
		c.resetAndLoadLocked()
		return true
	}
	c.subject = subject
	c.mode = mode
	c.side = side
	job := c.beginFetchLocked(triggerInitial, "")
	state := c.publishLocked()
	c.mu.Unlock()

	c.observer.OnStateChanged(state)
	c.dispatch(job)
	return true
}

// OnItemBecameVisible is called for every visibility transition of a
// rendered item. When the item sits at the trigger index the next page is
// requested; repeated events while that fetch runs are dropped. Other items
// have no identity, so any visible Other matches an Other at the trigger
// index.
func (c *Controller) OnItemBecameVisible(item media.Item) bool {
	if item == nil {
		return false
	}
	key := media.KeyOf(item)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}

	count := len(c.items)
	index := TriggerIndex(count)
	if index >= count || media.KeyOf(c.items[index]) != key {
		c.mu.Unlock()
		return false
	}

	if c.fetching {
		c.mu.Unlock()
		visibilityDropped.Inc()
		log.WithFields(log.Fields{
			"subject": c.subject,
			"item":    key.String(),
		}).Debug("Trigger item visible while fetching, dropping")
		return false
	}

	// Without a cursor the next page would be the first one again
	if c.cursor == "" {
		c.mu.Unlock()
		log.WithFields(log.Fields{
			"subject": c.subject,
			"item":    key.String(),
		}).Debug("Trigger item visible but nothing to continue from")
		return false
	}

	job := c.beginFetchLocked(triggerPrefetch, c.cursor)
	state := c.publishLocked()
	c.mu.Unlock()

	c.observer.OnStateChanged(state)
	c.dispatch(job)
	return true
}

// OnFilterModeChanged clears the feed and reloads it with the new mode. A
// fetch still in flight is left to finish and its result is ignored.
func (c *Controller) OnFilterModeChanged(mode FilterMode) bool {
	c.mu.Lock()
	if c.closed || mode == c.mode {
		c.mu.Unlock()
		return false
	}
	c.mode = mode
	c.resetAndLoadLocked()
	return true
}

// Reload clears the feed and loads it again from the start
func (c *Controller) Reload() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.resetAndLoadLocked()
}

// resetAndLoadLocked must be called with c.mu held and releases it
func (c *Controller) resetAndLoadLocked() {
	c.generation++
	c.items = nil
	c.seen = make(map[media.Key]struct{})
	c.cursor = ""
	c.fetching = false

	log.WithFields(log.Fields{
		"subject":    c.subject,
		"mode":       c.mode,
		"generation": c.generation,
	}).Debug("Feed reset")

	// Nothing to load before LoadInitial named a subject
	var job *fetchJob
	if c.subject != "" {
		j := c.beginFetchLocked(triggerReset, "")
		job = &j
	}
	state := c.publishLocked()
	c.mu.Unlock()

	c.observer.OnStateChanged(state)
	if job != nil {
		c.dispatch(*job)
	}
}

// State returns a snapshot of the feed
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until no fetch is in flight and every finished fetch has been
// folded in or discarded and its observers notified
func (c *Controller) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.inflight > 0 {
		c.idle.Wait()
	}
}

// Close detaches the controller from its view. Outstanding fetches are
// cancelled and their results ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.generation++
	c.fetching = false
	c.mu.Unlock()
	c.cancel()
}

// beginFetchLocked marks the controller as fetching. The returned job must
// be passed to dispatch.
func (c *Controller) beginFetchLocked(trigger string, cursor string) fetchJob {
	c.fetching = true
	c.inflight++
	return fetchJob{
		generation: c.generation,
		trigger:    trigger,
		req: PageRequest{
			Subject: c.subject,
			Cursor:  cursor,
			Mode:    c.mode,
			Side:    c.side,
		},
	}
}

func (c *Controller) dispatch(job fetchJob) {
	fetchesIssued.WithLabelValues(job.trigger).Inc()
	log.WithFields(log.Fields{
		"subject": job.req.Subject,
		"mode":    job.req.Mode,
		"cursor":  job.req.Cursor,
		"trigger": job.trigger,
	}).Debug("Fetching page")

	go func() {
		defer c.done()
		items, err := c.fetcher.FetchPage(c.ctx, job.req)
		c.complete(job, items, err)
	}()
}

func (c *Controller) done() {
	c.mu.Lock()
	c.inflight--
	if c.inflight == 0 {
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

func (c *Controller) complete(job fetchJob, items []media.Item, err error) {
	c.mu.Lock()
	if c.closed || job.generation != c.generation {
		c.mu.Unlock()
		staleResults.Inc()
		log.WithFields(log.Fields{
			"subject":    job.req.Subject,
			"generation": job.generation,
		}).Debug("Discarding stale page")
		return
	}

	c.fetching = false

	if err != nil {
		fetchErr := AsFetchError(err)
		state := c.publishLocked()
		c.mu.Unlock()

		fetchFailures.WithLabelValues(string(fetchErr.Kind)).Inc()
		log.WithFields(log.Fields{
			"subject": job.req.Subject,
			"cursor":  job.req.Cursor,
			"kind":    fetchErr.Kind,
		}).Warnf("Fetching page failed: %v", fetchErr)

		c.observer.OnFetchFailed(fetchErr)
		c.observer.OnStateChanged(state)
		return
	}

	merged, duplicates := c.mergeLocked(items)
	state := c.publishLocked()
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"subject":    job.req.Subject,
		"received":   len(items),
		"merged":     merged,
		"duplicates": duplicates,
		"cursor":     state.Cursor,
	}).Debug("Merged page")

	c.observer.OnStateChanged(state)
}

// mergeLocked appends the unseen items of a page in order and moves the
// cursor to the last merged identity, if any
func (c *Controller) mergeLocked(page []media.Item) (merged int, duplicates int) {
	lastIdentity := ""
	for _, item := range page {
		key := media.KeyOf(item)
		if key.ID == "" {
			c.items = append(c.items, item)
			merged++
			continue
		}
		if _, ok := c.seen[key]; ok {
			duplicates++
			continue
		}
		c.seen[key] = struct{}{}
		c.items = append(c.items, item)
		lastIdentity = key.ID
		merged++
	}

	if lastIdentity != "" {
		c.cursor = lastIdentity
	}

	itemsMerged.Add(float64(merged))
	itemsDuplicate.Add(float64(duplicates))
	return merged, duplicates
}

// publishLocked records a transition and returns the snapshot to notify
func (c *Controller) publishLocked() State {
	c.version++
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	items := make([]media.Item, len(c.items))
	copy(items, c.items)
	return State{
		Subject:    c.subject,
		Mode:       c.mode,
		Items:      items,
		Cursor:     c.cursor,
		IsFetching: c.fetching,
		Version:    c.version,
	}
}
