// Package feed paginates a subject's feed from scroll visibility events
package feed

import (
	"context"
	"fmt"
	"scrollfeed/media"
	"strings"
)

// FilterMode selects which content subset of the subject is requested
type FilterMode string

const (
	FilterOverview FilterMode = ""
	FilterPosts    FilterMode = "submitted"
	FilterComments FilterMode = "comments"
)

// FilterModes lists the modes in picker order
var FilterModes = []FilterMode{FilterOverview, FilterPosts, FilterComments}

// Label is the human readable name of the mode
func (m FilterMode) Label() string {
	switch m {
	case FilterPosts:
		return "Posts"
	case FilterComments:
		return "Comments"
	default:
		return "Overview"
	}
}

func (m FilterMode) Valid() bool {
	return m == FilterOverview || m == FilterPosts || m == FilterComments
}

// ParseFilterMode accepts both the wire value and the label of a mode
func ParseFilterMode(s string) (FilterMode, error) {
	for _, m := range FilterModes {
		if s == string(m) || strings.EqualFold(s, m.Label()) {
			return m, nil
		}
	}
	return FilterOverview, fmt.Errorf("invalid filter mode %q", s)
}

// SideConfig carries options the controller passes to the fetcher untouched
type SideConfig struct {
	RemoveTrackingParams bool
	IncludeAdult         bool
}

// PageRequest describes one call to the fetch collaborator
type PageRequest struct {
	Subject string
	Cursor  string
	Mode    FilterMode
	Side    SideConfig
}

// Fetcher retrieves one page of the subject's feed
type Fetcher interface {
	FetchPage(ctx context.Context, req PageRequest) ([]media.Item, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, req PageRequest) ([]media.Item, error)

func (f FetcherFunc) FetchPage(ctx context.Context, req PageRequest) ([]media.Item, error) {
	return f(ctx, req)
}

// ReadState reports whether a post has been read. Keyed by post identity.
type ReadState interface {
	IsRead(ctx context.Context, identity string) (bool, error)
}

// SavedState reports whether a post or comment has been saved
type SavedState interface {
	IsSaved(ctx context.Context, identity string, variant media.Variant) (bool, error)
}

// State is a snapshot of the controller handed to observers
type State struct {
	Subject    string
	Mode       FilterMode
	Items      []media.Item
	Cursor     string
	IsFetching bool
	// Version increases with every transition
	Version uint64
}

// Observer is notified after every state transition
type Observer interface {
	OnStateChanged(state State)
	OnFetchFailed(err *FetchError)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	StateChanged func(state State)
	FetchFailed  func(err *FetchError)
}

func (o ObserverFuncs) OnStateChanged(state State) {
	if o.StateChanged != nil {
		o.StateChanged(state)
	}
}

func (o ObserverFuncs) OnFetchFailed(err *FetchError) {
	if o.FetchFailed != nil {
		o.FetchFailed(err)
	}
}

// Observers fans notifications out to several observers in order
type Observers []Observer

func (os Observers) OnStateChanged(state State) {
	for _, o := range os {
		o.OnStateChanged(state)
	}
}

func (os Observers) OnFetchFailed(err *FetchError) {
	for _, o := range os {
		o.OnFetchFailed(err)
	}
}
