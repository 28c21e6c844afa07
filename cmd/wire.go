// Package cmd holds the mailroom subcommands and the wiring that builds the
// ingestion pipeline from configuration.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/condorfx/mailroom/bus"
	"github.com/condorfx/mailroom/config"
	"github.com/condorfx/mailroom/extract"
	"github.com/condorfx/mailroom/gmail"
	"github.com/condorfx/mailroom/monitor"
	"github.com/condorfx/mailroom/store"
)

const defaultConfigPath = "mailroom.json"

func addCommonFlags(cmd *cobra.Command) (configPath *string, debug *bool) {
	configPath = cmd.Flags().StringP("config", "c", defaultConfigPath, "path to the JSON config file")
	debug = cmd.Flags().Bool("debug", false, "enable debug logging")
	return configPath, debug
}

// core is the part of the system that needs no Gmail access: configuration,
// durable state, and the event bus.
type core struct {
	cfg    config.Config
	logger zerolog.Logger
	db     *store.Store
	cursor *store.CursorStore
	ledger *store.Ledger
	events *bus.Bus

	logFile *os.File
}

func openCore(configPath string, debug bool) (*core, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, logFile, err := newLogger(cfg, debug)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	cursor := store.NewCursorStore(db)
	ledger, err := store.NewLedger(db, cfg.DedupMemoryCeiling)
	if err != nil {
		db.Close()
		return nil, err
	}
	// The durable log retains at least the dedup ceiling; trim the excess
	// left behind by long runs.
	if err := ledger.Prune(int64(cfg.DedupMemoryCeiling)); err != nil {
		logger.Warn().Err(err).Msg("ledger prune failed")
	}

	events := bus.New(cfg.SubscriberBufferCapacity, cfg.Heartbeat(), logger)

	return &core{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		cursor:  cursor,
		ledger:  ledger,
		events:  events,
		logFile: logFile,
	}, nil
}

func (c *core) close() {
	c.events.Close()
	if err := c.db.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to close database")
	}
	if c.logFile != nil {
		c.logFile.Close()
	}
}

func newLogger(cfg config.Config, debug bool) (zerolog.Logger, *os.File, error) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	if cfg.LogPath != "" {
		file, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return zerolog.New(file).Level(level).With().Timestamp().Logger(), file, nil
	}
	console := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(console).Level(level).With().Timestamp().Logger(), nil, nil
}

// pipeline is the core plus everything that talks to Gmail.
type pipeline struct {
	*core
	supervisor *monitor.Supervisor
}

// connect acquires credentials and wires the poller and supervisor. The
// extractor defaults to the discarding one; the hosting service injects the
// real confirmation extractor here.
func connect(ctx context.Context, c *core, extractor extract.Extractor) (*pipeline, error) {
	creds, err := gmail.Acquire(ctx, c.cfg.MonitoringEmail, c.cfg.ServiceAccountKeyPath, c.cfg.ImpersonationPrincipal)
	if err != nil {
		return nil, err
	}
	c.logger.Info().Stringer("mode", creds.Mode).Str("mailbox", c.cfg.MonitoringEmail).
		Msg("credentials acquired")

	client, err := gmail.NewClient(ctx, creds, c.cfg.APITimeout(), c.cfg.APIRetryCap, c.logger)
	if err != nil {
		return nil, err
	}

	processor := monitor.NewProcessor(client, c.ledger, extractor, c.events, c.logger)
	poller := monitor.NewPoller(client, c.cursor, c.ledger, processor, int64(c.cfg.FallbackScanLimit), c.logger)
	supervisor := monitor.NewSupervisor(poller, c.cursor, c.ledger, c.cfg.MonitoringEmail, c.logger)

	return &pipeline{core: c, supervisor: supervisor}, nil
}
