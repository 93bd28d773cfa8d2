package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/deductiv/export-everything-sub000/internal/config"
	"github.com/deductiv/export-everything-sub000/internal/events"
	"github.com/deductiv/export-everything-sub000/internal/logging"
	"github.com/deductiv/export-everything-sub000/internal/recordstore"
	"github.com/deductiv/export-everything-sub000/internal/syncengine"
)

// cli carries what every subcommand shares.
type cli struct {
	out    io.Writer
	errOut io.Writer

	output   string
	logLevel string

	cfg *config.Config
	bus *events.Broadcaster
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut, bus: events.NewBroadcaster()}

	root := &cobra.Command{
		Use:   "epadmin",
		Short: "Manage Export Everything destination profiles",
		Long: `epadmin edits the destination profiles and credentials used by Export Everything,
keeps at most one default profile per collection, and browses remote storage.

Configuration is read from the environment (EPADMIN_STORE, EAI_URL, DATABASE_URL, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVarP(&c.output, "output", "o", "table", "output format: table, json or yaml")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	root.AddCommand(
		c.newCollectionsCmd(),
		c.newBrowseCmd(),
		c.newServeCmd(),
		c.newTokenCmd(),
	)
	return root
}

func (c *cli) init() error {
	switch c.output {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unsupported output format %q", c.output)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg

	level := cfg.LogLevel
	if c.logLevel != "" {
		level = c.logLevel
	}
	return logging.Init(logging.Config{
		Level:      level,
		Format:     "console",
		OutputPath: "stderr",
	})
}

// withEngine opens the configured store, runs fn and prints the
// notifications the engine published meanwhile.
func (c *cli) withEngine(ctx context.Context, fn func(*syncengine.Engine) error) error {
	store, err := recordstore.Open(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ch := c.bus.Subscribe()
	defer c.bus.Unsubscribe(ch)

	engine := syncengine.New(store, c.cfg.App,
		syncengine.WithPublisher(c.bus),
		syncengine.WithTimeout(c.cfg.EAITimeout))
	err = fn(engine)
	c.printEvents(ch)
	return err
}

func (c *cli) printEvents(ch chan events.Event) {
	for {
		select {
		case ev := <-ch:
			if ev.Type == events.EventRefresh {
				continue
			}
			if c.output == "json" {
				if data, err := events.MarshalEvent(ev); err == nil {
					fmt.Fprintf(c.errOut, "%s\n", data)
					continue
				}
			}
			target := ev.Collection
			if ev.Key != "" {
				target += "/" + ev.Key
			}
			fmt.Fprintf(c.errOut, "[%s] %s: %s\n", ev.Type, target, ev.Message)
		default:
			return
		}
	}
}
