package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"scrollfeed/db"
	"scrollfeed/feed"
	"scrollfeed/media"
	"scrollfeed/models"
	"scrollfeed/server"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedFetcher serves twenty posts on the first page and one more after
type pagedFetcher struct {
	mu       sync.Mutex
	requests []feed.PageRequest
}

func (f *pagedFetcher) FetchPage(_ context.Context, req feed.PageRequest) ([]media.Item, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if req.Subject == "missing.bsky.social" {
		return nil, feed.NewFetchError(feed.KindNotFound, "profile not found", nil)
	}
	if req.Cursor != "" {
		return []media.Item{media.Post{ID: "p-more"}}, nil
	}

	items := make([]media.Item, 0, 20)
	for i := 0; i < 20; i++ {
		items = append(items, media.Post{ID: fmt.Sprintf("p%d", i)})
	}
	return items, nil
}

func (f *pagedFetcher) lastRequest() feed.PageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type testServer struct {
	app     *fiber.App
	views   *server.Views
	marks   *db.MemoryMarks
	fetcher *pagedFetcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	fetcher := &pagedFetcher{}
	views := server.NewViews(fetcher)
	marks := db.NewMemoryMarks()
	t.Cleanup(views.CloseAll)

	app := server.Server(&server.ServerConfig{
		Views:       views,
		Marks:       marks,
		DefaultMode: feed.FilterOverview,
		DefaultSide: feed.SideConfig{RemoveTrackingParams: true},
	})
	return &testServer{app: app, views: views, marks: marks, fetcher: fetcher}
}

func (s *testServer) do(t *testing.T, method, target string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// openView creates a view and waits for its first page
func (s *testServer) openView(t *testing.T, subject string, body interface{}) string {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/profiles/"+subject+"/views", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.CreateViewResponse](t, resp)
	require.NotEmpty(t, created.ID)

	view, ok := s.views.Get(created.ID)
	require.True(t, ok)
	view.Controller.Wait()
	return created.ID
}

func (s *testServer) state(t *testing.T, id string) models.StateView {
	t.Helper()
	resp := s.do(t, http.MethodGet, "/views/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[models.StateView](t, resp)
}

func TestCreateViewLoadsFirstPage(t *testing.T) {
	s := newTestServer(t)

	id := s.openView(t, "alice.bsky.social", models.CreateViewRequest{Filter: "Posts"})
	state := s.state(t, id)

	assert.Equal(t, id, state.View)
	assert.Equal(t, "alice.bsky.social", state.Subject)
	assert.Equal(t, "submitted", state.Filter)
	assert.Equal(t, "Posts", state.FilterLabel)
	assert.False(t, state.IsFetching)
	assert.Len(t, state.Items, 20)
	assert.Equal(t, "p19", state.Cursor)

	req := s.fetcher.lastRequest()
	assert.Equal(t, feed.FilterPosts, req.Mode)
	assert.Equal(t, feed.SideConfig{RemoveTrackingParams: true}, req.Side)
}

func TestCreateViewWithoutBodyUsesDefaults(t *testing.T) {
	s := newTestServer(t)

	id := s.openView(t, "alice.bsky.social", nil)
	assert.Equal(t, "", s.state(t, id).Filter)
}

func TestCreateViewOverridesSideConfig(t *testing.T) {
	s := newTestServer(t)
	include, strip := true, false

	s.openView(t, "alice.bsky.social", models.CreateViewRequest{IncludeAdult: &include, RemoveTracking: &strip})
	assert.Equal(t, feed.SideConfig{IncludeAdult: true}, s.fetcher.lastRequest().Side)
}

func TestCreateViewRejectsUnknownFilter(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/profiles/alice.bsky.social/views", models.CreateViewRequest{Filter: "stories"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, s.views.Len())
}

func TestVisibleItemTriggersPrefetch(t *testing.T) {
	s := newTestServer(t)
	id := s.openView(t, "alice.bsky.social", nil)

	tests := []struct {
		name      string
		req       models.VisibleRequest
		triggered bool
	}{
		{name: "before trigger index", req: models.VisibleRequest{Variant: "post", ID: "p15"}},
		{name: "wrong variant at trigger index", req: models.VisibleRequest{Variant: "comment", ID: "p17"}},
		{name: "trigger index", req: models.VisibleRequest{Variant: "post", ID: "p17"}, triggered: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, "/views/"+id+"/visible", tt.req)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.triggered, decode[models.VisibleResponse](t, resp).Triggered)
		})
	}

	view, _ := s.views.Get(id)
	view.Controller.Wait()

	state := s.state(t, id)
	assert.Len(t, state.Items, 21)
	assert.Equal(t, "p-more", state.Cursor)
	assert.Equal(t, "p19", s.fetcher.lastRequest().Cursor)
}

func TestVisibleAcceptsOtherItems(t *testing.T) {
	s := newTestServer(t)
	id := s.openView(t, "alice.bsky.social", nil)

	resp := s.do(t, http.MethodPost, "/views/"+id+"/visible", models.VisibleRequest{Variant: "other", Kind: "repost"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	// A post sits at the trigger index
	assert.False(t, decode[models.VisibleResponse](t, resp).Triggered)

	resp = s.do(t, http.MethodPost, "/views/"+id+"/visible", models.VisibleRequest{Variant: "post"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChangeFilterResetsView(t *testing.T) {
	s := newTestServer(t)
	id := s.openView(t, "alice.bsky.social", nil)

	resp := s.do(t, http.MethodPut, "/views/"+id+"/filter", models.FilterRequest{Filter: "comments"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[models.StateView](t, resp)

	assert.Equal(t, "comments", state.Filter)

	view, _ := s.views.Get(id)
	view.Controller.Wait()
	assert.Equal(t, feed.FilterComments, s.fetcher.lastRequest().Mode)
	assert.Len(t, s.state(t, id).Items, 20)

	resp = s.do(t, http.MethodPut, "/views/"+id+"/filter", models.FilterRequest{Filter: "stories"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReloadRefetchesFromStart(t *testing.T) {
	s := newTestServer(t)
	id := s.openView(t, "alice.bsky.social", nil)

	resp := s.do(t, http.MethodPost, "/views/"+id+"/reload", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	view, _ := s.views.Get(id)
	view.Controller.Wait()
	assert.Equal(t, "", s.fetcher.lastRequest().Cursor)
	assert.Len(t, s.state(t, id).Items, 20)
}

func TestCloseView(t *testing.T) {
	s := newTestServer(t)
	id := s.openView(t, "alice.bsky.social", nil)

	resp := s.do(t, http.MethodDelete, "/views/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/views/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, s.views.Len())
}

func TestUnknownView(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/views/does-not-exist/reload", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Unknown view", decode[models.ErrorResponse](t, resp).Error)
}

func TestMarksDecorateItems(t *testing.T) {
	s := newTestServer(t)
	id := s.openView(t, "alice.bsky.social", nil)

	resp := s.do(t, http.MethodPut, "/marks/read?id="+url.QueryEscape("p0"), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodPut, "/marks/saved?variant=post&id=p1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	state := s.state(t, id)
	assert.True(t, state.Items[0].IsRead)
	assert.False(t, state.Items[0].IsSaved)
	assert.True(t, state.Items[1].IsSaved)

	resp = s.do(t, http.MethodDelete, "/marks/read?id=p0", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodDelete, "/marks/saved?variant=post&id=p1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	state = s.state(t, id)
	assert.False(t, state.Items[0].IsRead)
	assert.False(t, state.Items[1].IsSaved)
}

func TestMarksValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
	}{
		{name: "read without id", method: http.MethodPut, target: "/marks/read"},
		{name: "saved without variant", method: http.MethodPut, target: "/marks/saved?id=p1"},
		{name: "saved other", method: http.MethodPut, target: "/marks/saved?variant=other&id=p1"},
		{name: "saved unknown variant", method: http.MethodDelete, target: "/marks/saved?variant=story&id=p1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, tt.method, tt.target, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestMarkSavedIdentityWithSlashes(t *testing.T) {
	s := newTestServer(t)
	uri := "at://did:plc:alice/app.bsky.feed.post/3kabc"

	resp := s.do(t, http.MethodPut, "/marks/saved?variant=comment&id="+url.QueryEscape(uri), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	saved, err := s.marks.IsSaved(context.Background(), uri, media.VariantComment)
	require.NoError(t, err)
	assert.True(t, saved)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.openView(t, "alice.bsky.social", nil)

	resp := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "scrollfeed_fetches_total")
	assert.Contains(t, string(body), "scrollfeed_open_views")
}
