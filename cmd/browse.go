package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"scrollfeed/bluesky"
	"scrollfeed/config"
	"scrollfeed/feed"
	"scrollfeed/media"
	"scrollfeed/models"
	"strings"

	"github.com/cqroot/prompt"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	menuMore   = "More"
	menuFilter = "Change filter"
	menuReload = "Reload"
	menuQuit   = "Quit"
)

// browser reveals a controller's items a screenful at a time
type browser struct {
	ctrl    *feed.Controller
	out     io.Writer
	json    bool
	screen  int
	shown   int
	subject string
	side    feed.SideConfig
}

func browseCmd() *cli.Command {
	return &cli.Command{
		Name:  "browse",
		Usage: "Browse a profile in the terminal",
		Description: `Browse a Bluesky profile page by page.

Items are printed a screenful at a time. Every printed item counts as
scrolled into view, so the next page is fetched in the background before
the end of the loaded feed is reached.

With --json every item is printed as a JSON object on a single line. Log
messages go to stderr.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the TOML configuration file",
				EnvVars: []string{"SCROLLFEED_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "filter",
				Usage: "Start with this filter instead of asking (overview, posts, comments)",
			},
			&cli.IntFlag{
				Name:  "screen",
				Usage: "Items printed per screenful",
				Value: 10,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print items as JSON lines",
			},
			loginFlag(),
		},
		ArgsUsage: "[handle]",
		Action: func(ctx *cli.Context) error {
			log.SetOutput(os.Stderr)

			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			subject := ctx.Args().First()
			if subject == "" {
				subject, err = prompt.New().Ask("Profile:").Input("alice.bsky.social")
				if err != nil {
					return quitOr(err)
				}
			}
			if _, err := bluesky.NormalizeActor(subject); err != nil {
				return err
			}

			var mode feed.FilterMode
			if raw := ctx.String("filter"); raw != "" {
				if mode, err = feed.ParseFilterMode(raw); err != nil {
					return err
				}
			} else if mode, err = chooseFilter(); err != nil {
				return quitOr(err)
			}

			fetcher, err := newFetcher(ctx, cfg)
			if err != nil {
				return err
			}

			b := &browser{
				out:     os.Stdout,
				json:    ctx.Bool("json"),
				screen:  max(ctx.Int("screen"), 1),
				subject: subject,
				side:    cfg.DefaultSide(),
			}
			b.ctrl = feed.NewController(fetcher, feed.ObserverFuncs{
				FetchFailed: func(err *feed.FetchError) {
					fmt.Fprintf(os.Stderr, "Could not load %s: %s\n", subject, err.Message)
				},
			})
			defer b.ctrl.Close()

			b.ctrl.LoadInitial(subject, mode, b.side)
			return b.run()
		},
	}
}

func (b *browser) run() error {
	for {
		b.ctrl.Wait()
		b.reveal()

		choice, err := prompt.New().Ask("Next:").Choose([]string{menuMore, menuFilter, menuReload, menuQuit})
		if err != nil {
			return quitOr(err)
		}

		switch choice {
		case menuFilter:
			mode, err := chooseFilter()
			if err != nil {
				return quitOr(err)
			}
			if b.ctrl.OnFilterModeChanged(mode) {
				b.shown = 0
			}
		case menuReload:
			b.ctrl.Reload()
			b.shown = 0
		case menuQuit:
			return nil
		}
	}
}

// reveal prints the next screenful and reports each item as visible
func (b *browser) reveal() {
	state := b.ctrl.State()

	if len(state.Items) == 0 {
		fmt.Fprintf(b.out, "Nothing to show for %s (%s)\n", state.Subject, state.Mode.Label())
		// An empty view loads again when it is shown
		b.ctrl.LoadInitial(b.subject, state.Mode, b.side)
		return
	}

	if b.shown >= len(state.Items) {
		fmt.Fprintln(b.out, "End of feed")
		return
	}

	end := min(b.shown+b.screen, len(state.Items))
	for i := b.shown; i < end; i++ {
		item := state.Items[i]
		if err := b.printItem(i+1, item); err != nil {
			log.Warnf("Failed to print item: %v", err)
		}
		b.ctrl.OnItemBecameVisible(item)
	}
	b.shown = end
}

func (b *browser) printItem(position int, item media.Item) error {
	if b.json {
		line, err := json.Marshal(models.NewItemView(item, nil, nil))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(b.out, string(line))
		return err
	}
	_, err := fmt.Fprint(b.out, formatItem(position, item))
	return err
}

func formatItem(position int, item media.Item) string {
	var sb strings.Builder
	variant := media.VariantOf(item).String()

	payload, ok := media.PayloadOf(item).(*bluesky.Payload)
	if !ok {
		fmt.Fprintf(&sb, "%3d [%s] %s\n", position, variant, media.IdentityOf(item))
		return sb.String()
	}

	fmt.Fprintf(&sb, "%3d [%s] @%s %s\n", position, variant, payload.AuthorHandle, payload.CreatedAt)
	if payload.RepostedBy != "" {
		fmt.Fprintf(&sb, "    reposted by @%s\n", payload.RepostedBy)
	}
	if payload.ParentURI != "" {
		fmt.Fprintf(&sb, "    in reply to %s\n", payload.ParentURI)
	}
	for _, line := range strings.Split(strings.TrimSpace(payload.Text), "\n") {
		fmt.Fprintf(&sb, "    %s\n", line)
	}
	for _, link := range payload.Links {
		fmt.Fprintf(&sb, "    -> %s\n", link)
	}
	return sb.String()
}

func chooseFilter() (feed.FilterMode, error) {
	labels := lo.Map(feed.FilterModes, func(mode feed.FilterMode, _ int) string {
		return mode.Label()
	})
	choice, err := prompt.New().Ask("Filter:").Choose(labels)
	if err != nil {
		return feed.FilterOverview, err
	}
	return feed.ParseFilterMode(choice)
}

// quitOr treats leaving a prompt as a normal exit
func quitOr(err error) error {
	if errors.Is(err, prompt.ErrUserQuit) {
		return nil
	}
	return err
}
