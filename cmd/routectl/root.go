package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/refset/desk-routing/internal/app"
	"github.com/refset/desk-routing/internal/config"
	"github.com/refset/desk-routing/internal/logging"
)

// cli holds what the subcommands share. Store and engine open lazily so that
// commands like migrate never need a valid rule table.
type cli struct {
	cfgFile string
	dbDSN   string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
	store  app.Store
}

// NewRootCommand creates the routectl command tree. The returned func
// releases the store and flushes the logger; call it after Execute.
func NewRootCommand() (*cobra.Command, func()) {
	c := &cli{}
	root := &cobra.Command{
		Use:           "routectl",
		Short:         "Operate the desk routing engine",
		Long:          `routectl feeds inbound client messages to the routing engine, reports ticket status and manages the routing database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "Path to configuration file (default config.yaml or $ROUTER_CONFIG)")
	root.PersistentFlags().StringVar(&c.dbDSN, "db", "", "Override the database DSN (sqlite path or postgres URL)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newInboundCommand(c),
		newStatusCommand(c),
		newLoadsCommand(c),
		newAuditCommand(c),
		newMigrateCommand(c),
		newSeedCommand(c),
	)
	return root, c.close
}

func (c *cli) init() error {
	var err error
	if c.cfgFile != "" {
		c.cfg, err = config.LoadFile(c.cfgFile, true)
	} else {
		c.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if c.dbDSN != "" {
		c.cfg.Database.DSN = c.dbDSN
	}

	level := c.cfg.LogLevel
	if c.verbose {
		level = "debug"
	}
	c.logger, err = logging.New(level)
	return err
}

func (c *cli) openStore(ctx context.Context) (app.Store, error) {
	if c.store == nil {
		st, err := app.OpenStore(ctx, c.cfg.Database)
		if err != nil {
			return nil, err
		}
		c.store = st
	}
	return c.store, nil
}

func (c *cli) engine(ctx context.Context) (*app.Engine, error) {
	st, err := c.openStore(ctx)
	if err != nil {
		return nil, err
	}
	return app.NewEngine(ctx, c.cfg, st, c.logger)
}

func (c *cli) close() {
	if c.store != nil {
		c.store.Close()
		c.store = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
