package server

import (
	"bufio"
	"bytes"
	"context"
	"scrollfeed/feed"
	"scrollfeed/media"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticFetcher(items ...media.Item) feed.Fetcher {
	return feed.FetcherFunc(func(_ context.Context, _ feed.PageRequest) ([]media.Item, error) {
		return items, nil
	})
}

func TestBroadcasterFansOutEvents(t *testing.T) {
	bc := NewBroadcaster("v1")
	first := make(chan Event, 1)
	second := make(chan Event, 1)
	bc.AddClient("a", first)
	bc.AddClient("b", second)

	bc.OnStateChanged(feed.State{Version: 3})

	assert.Equal(t, Event{Name: EventState, State: feed.State{Version: 3}}, <-first)
	assert.Equal(t, Event{Name: EventState, State: feed.State{Version: 3}}, <-second)

	// A full client is skipped, not waited on
	first <- Event{Name: "filler"}
	failure := feed.NewFetchError(feed.KindNetwork, "offline", nil)
	bc.OnFetchFailed(failure)
	assert.Equal(t, Event{Name: "filler"}, <-first)
	assert.Equal(t, Event{Name: EventFetchFailed, Failure: failure}, <-second)

	bc.RemoveClient("a")
	_, open := <-first
	assert.False(t, open)
	assert.Equal(t, 1, bc.ClientCount())

	bc.Shutdown()
	_, open = <-second
	assert.False(t, open)
	assert.Equal(t, 0, bc.ClientCount())
}

func TestViewsOpenLoadsFirstPage(t *testing.T) {
	views := NewViews(staticFetcher(media.Post{ID: "p1"}))
	t.Cleanup(views.CloseAll)

	view := views.Open("alice.bsky.social", feed.FilterOverview, feed.SideConfig{})
	view.Controller.Wait()

	assert.Equal(t, 1, views.Len())
	assert.Equal(t, []media.Item{media.Post{ID: "p1"}}, view.Controller.State().Items)
}

func TestViewsCloseIsIdempotent(t *testing.T) {
	views := NewViews(staticFetcher())
	view := views.Open("alice.bsky.social", feed.FilterOverview, feed.SideConfig{})

	assert.True(t, views.Close(view.ID))
	assert.False(t, views.Close(view.ID))
	_, ok := views.Get(view.ID)
	assert.False(t, ok)
}

func TestViewsReapSkipsConnectedAndRecentViews(t *testing.T) {
	now := time.Now()
	views := NewViews(staticFetcher())
	t.Cleanup(views.CloseAll)

	views.now = func() time.Time { return now.Add(-time.Hour) }
	idle := views.Open("idle.bsky.social", feed.FilterOverview, feed.SideConfig{})
	connected := views.Open("connected.bsky.social", feed.FilterOverview, feed.SideConfig{})
	connected.Broadcaster.AddClient("client", make(chan Event, 1))

	views.now = func() time.Time { return now }
	recent := views.Open("recent.bsky.social", feed.FilterOverview, feed.SideConfig{})

	require.Equal(t, 1, views.Reap(10*time.Minute))

	_, ok := views.Get(idle.ID)
	assert.False(t, ok)
	_, ok = views.Get(connected.ID)
	assert.True(t, ok)
	_, ok = views.Get(recent.ID)
	assert.True(t, ok)
}

func TestWriteEventFramesJSON(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	require.NoError(t, writeEvent(w, EventFetchFailed, map[string]string{"kind": "network"}))
	assert.Equal(t, "event: fetch-failed\ndata: {\"kind\":\"network\"}\n\n", buf.String())
}
