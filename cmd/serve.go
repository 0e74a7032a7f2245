package cmd

import (
	"context"
	"fmt"
	"scrollfeed/config"
	"scrollfeed/db"
	"scrollfeed/server"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the TOML configuration file",
			EnvVars: []string{"SCROLLFEED_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "host",
			Usage:   "Host to listen on",
			EnvVars: []string{"SCROLLFEED_HOST"},
			Value:   "0.0.0.0",
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to listen on",
			EnvVars: []string{"SCROLLFEED_PORT"},
			Value:   3000,
		},
		&cli.StringFlag{
			Name:    "allow-origins",
			Usage:   "Comma separated origins allowed to call the API from a browser",
			EnvVars: []string{"SCROLLFEED_ALLOW_ORIGINS"},
			Value:   "http://localhost:3001",
		},
		&cli.BoolFlag{
			Name:    "memory",
			Usage:   "Keep read and saved marks in memory instead of PostgreSQL",
			EnvVars: []string{"SCROLLFEED_MEMORY"},
		},
		&cli.DurationFlag{
			Name:    "view-idle",
			Usage:   "Close views nobody has used for this long",
			EnvVars: []string{"SCROLLFEED_VIEW_IDLE"},
			Value:   30 * time.Minute,
		},
		loginFlag(),
	}

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve profile views over HTTP",
		Description: `Starts the scrollfeed HTTP server.

Clients open a view on a profile, report which items scroll into view and
receive state updates over server-sent events. Read and saved marks are
stored in PostgreSQL unless --memory is given.`,
		Flags: append(flags, databaseFlags()...),
		Action: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			fetcher, err := newFetcher(ctx, cfg)
			if err != nil {
				return err
			}

			var marks db.Marks
			if ctx.Bool("memory") {
				log.Info("Keeping marks in memory")
				marks = db.NewMemoryMarks()
			} else {
				database, err := openDatabase(ctx)
				if err != nil {
					return err
				}
				defer database.Close()
				marks = database

				go db.RunTidy(ctx.Context, database, 6*time.Hour)
			}

			views := server.NewViews(fetcher)
			defer views.CloseAll()
			go views.RunReaper(ctx.Context, time.Minute, ctx.Duration("view-idle"))

			app := server.Server(&server.ServerConfig{
				AllowOrigins: ctx.String("allow-origins"),
				Views:        views,
				Marks:        marks,
				DefaultMode:  cfg.DefaultMode(),
				DefaultSide:  cfg.DefaultSide(),
			})

			listenErr := make(chan error, 1)
			go func() {
				addr := fmt.Sprintf("%s:%d", ctx.String("host"), ctx.Int("port"))
				log.WithFields(log.Fields{
					"addr":    addr,
					"bluesky": cfg.Bluesky.Host,
				}).Info("Starting server")
				listenErr <- app.Listen(addr)
			}()

			select {
			case err := <-listenErr:
				return err
			case <-ctx.Context.Done():
			}

			log.Info("Gracefully shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			return app.ShutdownWithContext(shutdownCtx)
		},
	}
}
