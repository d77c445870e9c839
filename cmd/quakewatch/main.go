// Command quakewatch polls a seismic feed, keeps a change history of every
// reported earthquake and serves the live view, alerts and settings over HTTP.
//
// Usage:
//
//	quakewatch --config configs/config.yaml
//	quakewatch fetch
//	quakewatch history show us7000abcd
//	quakewatch history prune
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/quakewatch/internal/alert"
	"github.com/rewired-gh/quakewatch/internal/api"
	"github.com/rewired-gh/quakewatch/internal/config"
	"github.com/rewired-gh/quakewatch/internal/feed"
	"github.com/rewired-gh/quakewatch/internal/geoloc"
	"github.com/rewired-gh/quakewatch/internal/history"
	"github.com/rewired-gh/quakewatch/internal/logger"
	"github.com/rewired-gh/quakewatch/internal/metrics"
	"github.com/rewired-gh/quakewatch/internal/models"
	"github.com/rewired-gh/quakewatch/internal/monitor"
	"github.com/rewired-gh/quakewatch/internal/notify"
	"github.com/rewired-gh/quakewatch/internal/settings"
	"github.com/rewired-gh/quakewatch/internal/snapshot"
	"github.com/rewired-gh/quakewatch/internal/storage"
	"github.com/rewired-gh/quakewatch/internal/telegram"
)

const shutdownTimeout = 10 * time.Second

var configPath string

func main() {
	// Load .env if present
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "quakewatch",
		Short:         "Seismic feed monitor with change history and proximity alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to configuration file")

	root.AddCommand(serveCmd())
	root.AddCommand(fetchCmd())
	root.AddCommand(historyCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if path == "" {
		logger.Info("No config file at %s, using defaults and environment", configPath)
	} else {
		logger.Info("Configuration loaded from %s", path)
	}
	return cfg, nil
}

// --------------------------------------------------------------------------
// serve command
// --------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poll scheduler and HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize storage
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()
	logger.Debug("Storage initialized (driver: %s)", cfg.Storage.Driver)

	ledger := history.NewLedger(store, cfg.History.Retention)
	ledger.Load(ctx, time.Now().UTC())

	// Initialize settings
	provider, closeProvider, err := openLocationProvider(cfg.Location)
	if err != nil {
		return err
	}
	defer closeProvider()

	prefs := settings.New(store, provider, settingsDefaults(cfg))
	prefs.Load(ctx)
	defer prefs.Close()

	// Initialize feed
	source, err := feed.NewFromConfig(cfg.Feed)
	if err != nil {
		return fmt.Errorf("failed to initialize feed: %w", err)
	}

	// Initialize notification sinks
	hub := notify.NewHub(cfg.Server.CORSAllowOrigins)
	defer hub.Close()
	sinks := notify.Multi{notify.LogSink{}, hub}

	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		sinks = append(sinks, telegramClient)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	if cfg.NATS.Enabled {
		natsSink, err := notify.ConnectNATS(ctx, cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.SubjectPrefix)
		if err != nil {
			return err
		}
		defer func() {
			if err := natsSink.Close(); err != nil {
				logger.Warn("Failed to close NATS connection: %v", err)
			}
		}()
		sinks = append(sinks, natsSink)
		logger.Info("Publishing notifications to NATS stream %s", cfg.NATS.Stream)
	}

	// Initialize monitor
	m := metrics.New()
	tracker := alert.NewTracker(cfg.Alerts.DisplayDuration)
	snap := snapshot.New()
	mon := monitor.New(monitor.Options{
		Source:           source,
		Snapshot:         snap,
		Ledger:           ledger,
		Settings:         prefs,
		Tracker:          tracker,
		Sink:             sinks,
		Metrics:          m,
		PollInterval:     cfg.Feed.PollInterval,
		EvictionInterval: cfg.History.EvictionInterval,
		DeliveryTimeout:  cfg.Alerts.DeliveryTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(gctx)
	})

	if cfg.Server.Enabled {
		router := api.NewRouter(api.Deps{
			Snapshot: snap,
			Ledger:   ledger,
			Settings: prefs,
			Tracker:  tracker,
			Tsunami:  alert.NewTsunamiWatch(),
			Poller:   mon,
			Hub:      hub,
			Metrics:  m,
		}, cfg.Server)
		srv := api.NewServer(router, cfg.Server)

		g.Go(func() error {
			logger.Info("HTTP API listening on %s", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("Shutting down HTTP API...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	} else {
		logger.Debug("HTTP API disabled")
	}

	err = g.Wait()
	mon.Stop()
	mon.Wait()
	logger.Info("Service stopped")
	return err
}

// openLocationProvider opens the MaxMind database when one is configured.
// Without it the current-location mode reports ErrNoProvider.
func openLocationProvider(cfg config.LocationConfig) (geoloc.Provider, func(), error) {
	if cfg.MaxMindDB == "" || cfg.IP == "" {
		return nil, func() {}, nil
	}
	mm, err := geoloc.OpenMaxMind(cfg.MaxMindDB, cfg.IP, cfg.RefreshInterval, cfg.Timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open location database: %w", err)
	}
	return mm, func() {
		if err := mm.Close(); err != nil {
			logger.Warn("Failed to close location database: %v", err)
		}
	}, nil
}

func settingsDefaults(cfg *config.Config) settings.Defaults {
	d := settings.Defaults{
		Alerts: models.AlertConfig{
			Enabled:             cfg.Alerts.Enabled,
			SoundEnabled:        cfg.Alerts.SoundEnabled,
			DistanceThresholdKm: cfg.Alerts.DistanceThresholdKm,
			AutoPan:             cfg.Alerts.AutoPan,
		},
		Mode: settings.LocationMode(cfg.Location.Mode),
	}
	if d.Mode == settings.ModeCustom {
		d.Custom = &models.Location{Lat: cfg.Location.Latitude, Lon: cfg.Location.Longitude}
	}
	return d
}

// --------------------------------------------------------------------------
// fetch command
// --------------------------------------------------------------------------

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the feed once and print the valid entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			source, err := feed.NewFromConfig(cfg.Feed)
			if err != nil {
				return err
			}
			quakes, err := source.Fetch(cmd.Context())
			if err != nil {
				return err
			}
			return printQuakes(cmd.OutOrStdout(), quakes)
		},
	}
}

func printQuakes(w io.Writer, quakes []models.Quake) error {
	valid, invalid := 0, 0
	for _, q := range quakes {
		if err := q.Validate(); err != nil {
			invalid++
			continue
		}
		valid++
		if _, err := fmt.Fprintf(w, "%-14s M%-4.1f %6.1f km  %s  %s\n",
			q.ID, q.Magnitude, q.Depth, q.Time.UTC().Format(time.RFC3339), q.Place); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d valid, %d skipped\n", valid, invalid)
	return err
}

// --------------------------------------------------------------------------
// history command
// --------------------------------------------------------------------------

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or prune the persisted change history",
	}
	cmd.AddCommand(historyShowCmd())
	cmd.AddCommand(historyPruneCmd())
	return cmd
}

func historyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [quake-id]",
		Short: "Print the change history of one quake, or of all quakes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, ledger *history.Ledger) error {
				var out interface{} = ledger.All()
				if len(args) == 1 {
					out = ledger.Entries(args[0])
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			})
		},
	}
}

func historyPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove history records older than the retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, ledger *history.Ledger) error {
				removed := ledger.Evict(ctx, time.Now().UTC())
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "removed %d records, %d quakes remain\n", removed, ledger.Len())
				return err
			})
		},
	}
}

func withLedger(ctx context.Context, fn func(ctx context.Context, ledger *history.Ledger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	ledger := history.NewLedger(store, cfg.History.Retention)
	ledger.Load(ctx, time.Now().UTC())
	return fn(ctx, ledger)
}
