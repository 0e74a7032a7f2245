package server

import (
	"context"
	"scrollfeed/feed"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var openViews = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "scrollfeed_open_views",
	Help: "Profile views currently held by the server",
})

// View is one client's scroll session over a profile feed
type View struct {
	ID          string
	Controller  *feed.Controller
	Broadcaster *Broadcaster

	mu       sync.Mutex
	lastSeen time.Time
}

func (v *View) touch(now time.Time) {
	v.mu.Lock()
	v.lastSeen = now
	v.mu.Unlock()
}

func (v *View) idleSince() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSeen
}

// Views holds the open views, each with its own controller
type Views struct {
	sync.RWMutex
	fetcher feed.Fetcher
	views   map[string]*View
	now     func() time.Time
}

func NewViews(fetcher feed.Fetcher) *Views {
	return &Views{
		fetcher: fetcher,
		views:   make(map[string]*View),
		now:     time.Now,
	}
}

// Open creates a view and starts loading its first page
func (vs *Views) Open(subject string, mode feed.FilterMode, side feed.SideConfig) *View {
	id := uuid.New().String()
	bc := NewBroadcaster(id)
	view := &View{
		ID:          id,
		Controller:  feed.NewController(vs.fetcher, bc),
		Broadcaster: bc,
		lastSeen:    vs.now(),
	}

	vs.Lock()
	vs.views[id] = view
	count := len(vs.views)
	vs.Unlock()
	openViews.Inc()

	log.WithFields(log.Fields{
		"view":    id,
		"subject": subject,
		"filter":  mode.Label(),
		"count":   count,
	}).Info("Opened view")

	view.Controller.LoadInitial(subject, mode, side)
	return view
}

func (vs *Views) Get(id string) (*View, bool) {
	vs.RLock()
	view, ok := vs.views[id]
	vs.RUnlock()
	if ok {
		view.touch(vs.now())
	}
	return view, ok
}

// Close stops the view's controller and disconnects its clients
func (vs *Views) Close(id string) bool {
	vs.Lock()
	view, ok := vs.views[id]
	delete(vs.views, id)
	vs.Unlock()
	if !ok {
		return false
	}

	view.Controller.Close()
	view.Broadcaster.Shutdown()
	openViews.Dec()
	log.WithFields(log.Fields{
		"view": id,
	}).Info("Closed view")
	return true
}

func (vs *Views) CloseAll() {
	vs.RLock()
	ids := make([]string, 0, len(vs.views))
	for id := range vs.views {
		ids = append(ids, id)
	}
	vs.RUnlock()

	for _, id := range ids {
		vs.Close(id)
	}
}

func (vs *Views) Len() int {
	vs.RLock()
	defer vs.RUnlock()
	return len(vs.views)
}

// Reap closes views nobody has touched for maxIdle. Views with a connected
// SSE client are kept.
func (vs *Views) Reap(maxIdle time.Duration) int {
	cutoff := vs.now().Add(-maxIdle)

	vs.RLock()
	var idle []string
	for id, view := range vs.views {
		if view.Broadcaster.ClientCount() == 0 && view.idleSince().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	vs.RUnlock()

	for _, id := range idle {
		vs.Close(id)
	}
	return len(idle)
}

// RunReaper reaps idle views on every tick until ctx is done
func (vs *Views) RunReaper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped := vs.Reap(maxIdle); reaped > 0 {
				log.WithFields(log.Fields{
					"reaped": reaped,
					"open":   vs.Len(),
				}).Info("Reaped idle views")
			}
		}
	}
}
