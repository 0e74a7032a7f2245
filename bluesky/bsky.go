package bluesky

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/bluesky-social/indigo/xrpc"
)

const (
	DefaultPDSHost     = "https://bsky.social"
	DefaultAppViewHost = "https://public.api.bsky.app"
)

type Credentials struct {
	Identifier string
	Password   string
}

type Client struct {
	xrpc *xrpc.Client
}

// NewClient returns an unauthenticated client, enough for the public AppView
func NewClient(host string, userAgent string) *Client {
	c := &xrpc.Client{
		Host:   host,
		Client: http.DefaultClient,
	}
	if userAgent != "" {
		c.UserAgent = &userAgent
	}
	return &Client{xrpc: c}
}

func ClientFromCredentials(ctx context.Context, host string, creds *Credentials) (*Client, error) {
	auth, err := atproto.ServerCreateSession(ctx, &xrpc.Client{Host: host}, &atproto.ServerCreateSession_Input{
		Identifier: creds.Identifier,
		Password:   creds.Password,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	xrpcClient := &xrpc.Client{
		Host: host,
		Auth: &xrpc.AuthInfo{
			AccessJwt:  auth.AccessJwt,
			RefreshJwt: auth.RefreshJwt,
			Handle:     auth.Handle,
			Did:        auth.Did,
		},
		Client: http.DefaultClient,
	}

	return &Client{xrpc: xrpcClient}, nil
}

// Host returns the service the client talks to
func (c *Client) Host() string {
	return c.xrpc.Host
}

// GetAuthorFeed fetches one page of an actor's feed. filter is one of the
// app.bsky.feed.getAuthorFeed filter values.
func (c *Client) GetAuthorFeed(ctx context.Context, actor string, cursor string, filter string, limit int64) (*bsky.FeedGetAuthorFeed_Output, error) {
	return bsky.FeedGetAuthorFeed(ctx, c.xrpc, actor, cursor, filter, false, limit)
}

// NormalizeActor accepts a handle (optionally prefixed with @) or a DID
func NormalizeActor(raw string) (string, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "@")
	id, err := syntax.ParseAtIdentifier(raw)
	if err != nil {
		return "", fmt.Errorf("invalid actor %q: %w", raw, err)
	}
	return id.String(), nil
}
