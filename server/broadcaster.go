package server

import (
	"scrollfeed/feed"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	EventState       = "state"
	EventFetchFailed = "fetch-failed"
)

// Event is a controller notification on its way to SSE clients
type Event struct {
	Name    string
	State   feed.State
	Failure *feed.FetchError
}

// Broadcaster fans controller notifications out to the SSE clients of a view
type Broadcaster struct {
	sync.RWMutex
	viewID  string
	clients map[string]chan Event
}

func NewBroadcaster(viewID string) *Broadcaster {
	return &Broadcaster{
		viewID:  viewID,
		clients: make(map[string]chan Event),
	}
}

func (b *Broadcaster) broadcast(event Event) {
	b.RLock()
	defer b.RUnlock()

	for key, client := range b.clients {
		select {
		case client <- event: // Non-blocking send
		default:
			log.WithFields(log.Fields{
				"view":  b.viewID,
				"event": event.Name,
			}).Warnf("Client channel full, skipping event for client: %v", key)
		}
	}
}

// OnStateChanged implements feed.Observer
func (b *Broadcaster) OnStateChanged(state feed.State) {
	b.broadcast(Event{Name: EventState, State: state})
}

// OnFetchFailed implements feed.Observer
func (b *Broadcaster) OnFetchFailed(err *feed.FetchError) {
	b.broadcast(Event{Name: EventFetchFailed, Failure: err})
}

func (b *Broadcaster) AddClient(key string, client chan Event) {
	b.Lock()
	defer b.Unlock()
	b.clients[key] = client
	log.WithFields(log.Fields{
		"view":  b.viewID,
		"key":   key,
		"count": len(b.clients),
	}).Info("Adding client to broadcaster")
}

func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.clients[key]; ok {
		close(client)
		delete(b.clients, key)
	}

	log.WithFields(log.Fields{
		"view":  b.viewID,
		"key":   key,
		"count": len(b.clients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) ClientCount() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.clients)
}

// Shutdown disconnects every client
func (b *Broadcaster) Shutdown() {
	b.Lock()
	defer b.Unlock()
	for key, client := range b.clients {
		close(client)
		delete(b.clients, key)
	}
}
