package cmd

import (
	"context"
	"fmt"
	"scrollfeed/bluesky"
	"scrollfeed/config"

	"github.com/cqroot/prompt"
	"github.com/cqroot/prompt/input"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func loginFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "login",
		Usage:   "Log in to Bluesky to see profiles that hide from logged-out readers",
		EnvVars: []string{"SCROLLFEED_LOGIN"},
	}
}

func promptCredentials() (*bluesky.Credentials, error) {
	handle, err := prompt.New().Ask("Handle:").Input("myname.bsky.social")
	if err != nil {
		return nil, err
	}

	password, err := prompt.New().Ask("App password:").Input("", input.WithEchoMode(input.EchoNone))
	if err != nil {
		return nil, err
	}

	return &bluesky.Credentials{
		Identifier: handle,
		Password:   password,
	}, nil
}

// newClient returns an authenticated client when login is set and an
// anonymous AppView client otherwise
func newClient(ctx context.Context, cfg *config.TomlConfig, login bool) (*bluesky.Client, error) {
	if !login {
		return bluesky.NewClient(cfg.Bluesky.Host, cfg.Bluesky.UserAgent), nil
	}

	creds, err := promptCredentials()
	if err != nil {
		return nil, err
	}

	client, err := bluesky.ClientFromCredentials(ctx, bluesky.DefaultPDSHost, creds)
	if err != nil {
		return nil, fmt.Errorf("could not create client with provided credentials: %w", err)
	}

	log.WithFields(log.Fields{
		"handle": creds.Identifier,
		"host":   client.Host(),
	}).Info("Logged in to Bluesky")
	return client, nil
}

func newFetcher(ctx *cli.Context, cfg *config.TomlConfig) (*bluesky.AuthorFeedFetcher, error) {
	client, err := newClient(ctx.Context, cfg, ctx.Bool("login"))
	if err != nil {
		return nil, err
	}
	return bluesky.NewAuthorFeedFetcher(client, cfg.FetcherConfig())
}
