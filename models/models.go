package models

import (
	"fmt"
	"scrollfeed/feed"
	"scrollfeed/media"
)

// ItemView is a feed item as served to clients
type ItemView struct {
	Variant string `json:"variant"`
	ID      string `json:"id,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Payload any    `json:"payload,omitempty"`
	IsRead  bool   `json:"isRead"`
	IsSaved bool   `json:"isSaved"`
}

// StateView is a controller snapshot decorated with marks
type StateView struct {
	View        string     `json:"view"`
	Subject     string     `json:"subject"`
	Filter      string     `json:"filter"`
	FilterLabel string     `json:"filterLabel"`
	Cursor      string     `json:"cursor,omitempty"`
	IsFetching  bool       `json:"isFetching"`
	Version     uint64     `json:"version"`
	Items       []ItemView `json:"items"`
}

// FetchFailedEvent is pushed to clients when a page fails to load
type FetchFailedEvent struct {
	View    string `json:"view"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type CreateViewRequest struct {
	Filter         string `json:"filter"`
	IncludeAdult   *bool  `json:"includeAdult,omitempty"`
	RemoveTracking *bool  `json:"removeTracking,omitempty"`
}

type CreateViewResponse struct {
	ID    string    `json:"id"`
	State StateView `json:"state"`
}

// VisibleRequest identifies the item that scrolled into view. Other items
// carry no id.
type VisibleRequest struct {
	Variant string `json:"variant"`
	ID      string `json:"id,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

type VisibleResponse struct {
	// Triggered is true when the event started a page fetch
	Triggered bool `json:"triggered"`
}

type FilterRequest struct {
	Filter string `json:"filter"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Item rebuilds the feed item the request refers to. Only identity matters
// to the controller, so the payload is left empty.
func (r VisibleRequest) Item() (media.Item, error) {
	variant, err := media.ParseVariant(r.Variant)
	if err != nil {
		return nil, err
	}
	switch variant {
	case media.VariantPost:
		if r.ID == "" {
			return nil, fmt.Errorf("missing id")
		}
		return media.Post{ID: r.ID}, nil
	case media.VariantComment:
		if r.ID == "" {
			return nil, fmt.Errorf("missing id")
		}
		return media.Comment{ID: r.ID}, nil
	}
	return media.Other{Kind: r.Kind}, nil
}

// NewItemView renders item. read is keyed by post identity, saved by key.
func NewItemView(item media.Item, read map[string]bool, saved map[media.Key]bool) ItemView {
	view := ItemView{
		Variant: media.VariantOf(item).String(),
		ID:      media.IdentityOf(item),
		Payload: media.PayloadOf(item),
	}
	if other, ok := item.(media.Other); ok {
		view.Kind = other.Kind
	}
	if view.ID == "" {
		return view
	}

	if _, ok := item.(media.Post); ok {
		view.IsRead = read[view.ID]
	}
	view.IsSaved = saved[media.KeyOf(item)]
	return view
}

func NewStateView(viewID string, state feed.State, read map[string]bool, saved map[media.Key]bool) StateView {
	items := make([]ItemView, 0, len(state.Items))
	for _, item := range state.Items {
		items = append(items, NewItemView(item, read, saved))
	}

	return StateView{
		View:        viewID,
		Subject:     state.Subject,
		Filter:      string(state.Mode),
		FilterLabel: state.Mode.Label(),
		Cursor:      state.Cursor,
		IsFetching:  state.IsFetching,
		Version:     state.Version,
		Items:       items,
	}
}

func NewFetchFailedEvent(viewID string, err *feed.FetchError) FetchFailedEvent {
	return FetchFailedEvent{
		View:    viewID,
		Kind:    string(err.Kind),
		Message: err.Message,
	}
}

// MarkKeys lists the identities and keys of items that can carry marks
func MarkKeys(items []media.Item) (postIDs []string, keys []media.Key) {
	for _, item := range items {
		id := media.IdentityOf(item)
		if id == "" {
			continue
		}
		if _, ok := item.(media.Post); ok {
			postIDs = append(postIDs, id)
		}
		keys = append(keys, media.KeyOf(item))
	}
	return postIDs, keys
}
