package bluesky

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"scrollfeed/feed"
	"scrollfeed/media"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/xrpc"
	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

var (
	xrpcRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrollfeed_bluesky_requests_total",
		Help: "getAuthorFeed requests sent to Bluesky, by outcome",
	}, []string{"outcome"})

	xrpcRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scrollfeed_bluesky_retries_total",
		Help: "getAuthorFeed requests retried after a transient failure",
	})
)

const (
	filterWithReplies = "posts_with_replies"
	filterNoReplies   = "posts_no_replies"

	// Pages fetched at most per call to find a post or comment
	maxSkippedPages = 5
)

// Labels that hide an entry unless adult content is included
var AdultLabels = []string{"porn", "sexual", "nudity", "graphic-media"}

// FetcherConfig tunes the author feed fetcher
type FetcherConfig struct {
	PageSize        int64
	Timeout         time.Duration
	MaxRetries      uint64
	CursorCacheSize int
	TrackingParams  []string
	// ISO 639-1 codes to choose from for posts without declared languages.
	// Detection is off when empty.
	DetectLanguages []string
}

func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		PageSize:        25,
		Timeout:         15 * time.Second,
		MaxRetries:      3,
		CursorCacheSize: 4096,
	}
}

type authorFeedFunc func(ctx context.Context, actor, cursor, filter string, limit int64) (*bsky.FeedGetAuthorFeed_Output, error)

// AuthorFeedFetcher serves feed pages from app.bsky.feed.getAuthorFeed
type AuthorFeedFetcher struct {
	config   FetcherConfig
	getFeed  authorFeedFunc
	stripper *TrackingStripper
	detector *LanguageDetector

	// cursors maps the identity of a delivered item to the server cursor
	// that continues after the page it came in. "" marks the end of the feed.
	cursors *lru.Cache[string, string]

	newBackOff func() backoff.BackOff
}

func NewAuthorFeedFetcher(client *Client, config FetcherConfig) (*AuthorFeedFetcher, error) {
	return newAuthorFeedFetcher(client.GetAuthorFeed, config)
}

func newAuthorFeedFetcher(getFeed authorFeedFunc, config FetcherConfig) (*AuthorFeedFetcher, error) {
	defaults := DefaultFetcherConfig()
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.CursorCacheSize <= 0 {
		config.CursorCacheSize = defaults.CursorCacheSize
	}

	cursors, err := lru.New[string, string](config.CursorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cursor index: %w", err)
	}

	var detector *LanguageDetector
	if len(config.DetectLanguages) > 0 {
		if detector, err = NewLanguageDetector(config.DetectLanguages); err != nil {
			return nil, fmt.Errorf("failed to create language detector: %w", err)
		}
	}

	return &AuthorFeedFetcher{
		config:     config,
		getFeed:    getFeed,
		stripper:   NewTrackingStripper(config.TrackingParams),
		detector:   detector,
		cursors:    cursors,
		newBackOff: requestBackOff,
	}, nil
}

func requestBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.Multiplier = 1.5
	return b
}

// FetchPage implements feed.Fetcher
func (f *AuthorFeedFetcher) FetchPage(ctx context.Context, req feed.PageRequest) ([]media.Item, error) {
	actor, err := NormalizeActor(req.Subject)
	if err != nil {
		return nil, feed.NewFetchError(feed.KindNotFound, "invalid subject", err)
	}

	serverCursor := ""
	if req.Cursor != "" {
		next, ok := f.cursors.Get(cursorKey(actor, req.Mode, req.Cursor))
		if !ok {
			return nil, feed.NewFetchError(feed.KindCursorExpired, fmt.Sprintf("unknown cursor %s", req.Cursor), nil)
		}
		if next == "" {
			// The page holding the cursor item was the last one
			return nil, nil
		}
		serverCursor = next
	}

	filter := filterWithReplies
	if req.Mode == feed.FilterPosts {
		filter = filterNoReplies
	}

	// Pages without a post or comment give the controller nothing to continue
	// from, so their Other entries are collected and the walk goes on
	var collected []media.Item
	for walked := 0; walked < maxSkippedPages; walked++ {
		out, err := f.fetchWithRetry(ctx, actor, serverCursor, filter)
		if err != nil {
			return nil, err
		}

		items := ConvertFeed(out.Feed, req, f.stripper)
		collected = append(collected, items...)
		next := ""
		if out.Cursor != nil && len(out.Feed) > 0 {
			next = *out.Cursor
		}

		hasIdentity := lo.SomeBy(items, func(item media.Item) bool {
			return media.IdentityOf(item) != ""
		})
		if hasIdentity || next == "" {
			if !hasIdentity && req.Cursor != "" {
				// Asking again after these Other entries means the end of the feed
				f.cursors.Add(cursorKey(actor, req.Mode, req.Cursor), "")
			}
			f.finishPage(actor, req.Mode, collected, next)
			log.WithFields(log.Fields{
				"actor":    actor,
				"filter":   filter,
				"pages":    walked + 1,
				"received": len(out.Feed),
				"kept":     len(collected),
				"end":      next == "",
			}).Debug("Fetched author feed page")
			return collected, nil
		}

		serverCursor = next
	}

	log.WithFields(log.Fields{
		"actor":  actor,
		"filter": filter,
		"pages":  maxSkippedPages,
		"kept":   len(collected),
	}).Debug("No post or comment within the page limit")

	// A first page has no cursor to resume from
	if req.Cursor == "" {
		return nil, feed.NewFetchError(feed.KindNotFound,
			fmt.Sprintf("no posts or comments in the first %d pages", maxSkippedPages), nil)
	}

	// Resume after the pages walked so far when the same cursor comes back
	f.cursors.Add(cursorKey(actor, req.Mode, req.Cursor), serverCursor)
	f.finishPage(actor, req.Mode, collected, serverCursor)
	return collected, nil
}

// finishPage detects languages and indexes the cursor that continues after
// the identified items of a page
func (f *AuthorFeedFetcher) finishPage(actor string, mode feed.FilterMode, items []media.Item, next string) {
	if f.detector != nil {
		f.detector.FillLanguages(items)
	}
	for _, item := range items {
		if id := media.IdentityOf(item); id != "" {
			f.cursors.Add(cursorKey(actor, mode, id), next)
		}
	}
}

func (f *AuthorFeedFetcher) fetchWithRetry(ctx context.Context, actor, cursor, filter string) (*bsky.FeedGetAuthorFeed_Output, error) {
	attempt := 0
	operation := func() (*bsky.FeedGetAuthorFeed_Output, error) {
		if attempt > 0 {
			xrpcRetries.Inc()
		}
		attempt++

		reqCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
		defer cancel()

		out, err := f.getFeed(reqCtx, actor, cursor, filter, f.config.PageSize)
		if err != nil {
			xrpcRequests.WithLabelValues("error").Inc()
			if !isRetryable(ctx, err) {
				return nil, backoff.Permanent(err)
			}
			log.WithFields(log.Fields{
				"actor":   actor,
				"attempt": attempt,
			}).Warnf("Transient error fetching author feed: %v", err)
			return nil, err
		}
		xrpcRequests.WithLabelValues("ok").Inc()
		return out, nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), f.config.MaxRetries), ctx)
	out, err := backoff.RetryWithData(operation, b)
	if err != nil {
		return nil, classifyError(err)
	}
	if out == nil {
		return nil, feed.NewFetchError(feed.KindParse, "empty response from getAuthorFeed", nil)
	}
	return out, nil
}

func cursorKey(actor string, mode feed.FilterMode, identity string) string {
	return actor + "|" + string(mode) + "|" + identity
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var xerr *xrpc.Error
	if errors.As(err, &xerr) {
		return xerr.StatusCode == http.StatusTooManyRequests || xerr.StatusCode >= 500
	}
	return true
}

func classifyError(err error) *feed.FetchError {
	var xerr *xrpc.Error
	if errors.As(err, &xerr) {
		switch {
		case xerr.StatusCode == http.StatusTooManyRequests:
			return feed.NewFetchError(feed.KindRateLimited, "rate limited by Bluesky", err)
		case xerr.StatusCode == http.StatusBadRequest || xerr.StatusCode == http.StatusNotFound:
			return feed.NewFetchError(feed.KindNotFound, "profile not found", err)
		case xerr.StatusCode >= 500:
			return feed.NewFetchError(feed.KindNetwork, "Bluesky is unavailable", err)
		}
		return feed.NewFetchError(feed.KindUnknown, "unexpected response from Bluesky", err)
	}
	return feed.NewFetchError(feed.KindNetwork, "request to Bluesky failed", err)
}

// ConvertFeed turns author feed entries into feed items for the given
// request: replies become comments, reposts become Other entries, and
// entries are dropped when the mode or the adult setting excludes them.
func ConvertFeed(entries []*bsky.FeedDefs_FeedViewPost, req feed.PageRequest, stripper *TrackingStripper) []media.Item {
	items := make([]media.Item, 0, len(entries))
	for _, entry := range entries {
		if entry == nil || entry.Post == nil {
			continue
		}
		if !req.Side.IncludeAdult && hasAdultLabel(entry.Post) {
			continue
		}

		var record *bsky.FeedPost
		if entry.Post.Record != nil {
			record, _ = entry.Post.Record.Val.(*bsky.FeedPost)
		}
		if record == nil {
			log.WithFields(log.Fields{
				"uri": entry.Post.Uri,
			}).Warn("Skipping feed entry without a post record")
			continue
		}

		payload := newPayload(entry.Post, record)
		if req.Side.RemoveTrackingParams && stripper != nil {
			payload.Links = lo.Map(payload.Links, func(link string, _ int) string {
				return stripper.Strip(link)
			})
		}

		if entry.Reason != nil && entry.Reason.FeedDefs_ReasonRepost != nil {
			if req.Mode == feed.FilterOverview {
				if by := entry.Reason.FeedDefs_ReasonRepost.By; by != nil {
					payload.RepostedBy = by.Handle
				}
				items = append(items, media.Other{Kind: "repost", Payload: payload})
			}
			continue
		}

		isReply := record.Reply != nil
		switch {
		case isReply && req.Mode != feed.FilterPosts:
			items = append(items, media.Comment{ID: entry.Post.Uri, Payload: payload})
		case !isReply && req.Mode != feed.FilterComments:
			items = append(items, media.Post{ID: entry.Post.Uri, Payload: payload})
		}
	}
	return items
}

func hasAdultLabel(post *bsky.FeedDefs_PostView) bool {
	isAdult := func(label *comatproto.LabelDefs_Label) bool {
		return label != nil && lo.Contains(AdultLabels, label.Val)
	}
	if lo.SomeBy(post.Labels, isAdult) {
		return true
	}
	return post.Author != nil && lo.SomeBy(post.Author.Labels, isAdult)
}
