package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "scrollfeed",
		Usage: "Scroll through Bluesky profiles page by page",
		Description: `Scrollfeed serves paginated views of a Bluesky profile's feed.

		A view loads the first page of a profile and fetches the next page
		as soon as the reader scrolls past 85% of what is loaded. Views can
		be filtered to posts or comments and remember which posts were read
		and which items were saved.

		Flags can generally be set via environment variables, e.g.:

		--port => SCROLLFEED_PORT=3000
		--db-host => SCROLLFEED_DB_HOST=localhost
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"SCROLLFEED_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "log-json",
				Usage:   "Log as JSON",
				EnvVars: []string{"SCROLLFEED_LOG_JSON"},
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := log.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			log.SetLevel(level)
			if ctx.Bool("log-json") {
				log.SetFormatter(&log.JSONFormatter{})
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			browseCmd(),
			migrateCmd(),
			rollbackCmd(),
			tidyCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

// Execute runs the app until it returns or the process is interrupted
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RootApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
