// netpass-mirror is a StreetPass relay server: devices upload outgoing
// messages, enter locations to become matchable, and pop messages
// delivered to them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/introkun/netpass-mirror/internal/config"
	httpapi "github.com/introkun/netpass-mirror/internal/http"
	"github.com/introkun/netpass-mirror/internal/jobs"
	"github.com/introkun/netpass-mirror/internal/metrics"
	"github.com/introkun/netpass-mirror/internal/relay"
	"github.com/introkun/netpass-mirror/internal/server"
	"github.com/introkun/netpass-mirror/internal/storage/sqlite"
)

func main() {
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{
		Use:          "netpass-mirror",
		Short:        "StreetPass relay server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, debug)
		},
	}
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string, debug bool) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if !debug {
		log = log.Level(zerolog.InfoLevel)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := sqlite.New(cfg.DB.Path, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	matcher := relay.NewMatcher(store, m, log)
	outbox := relay.NewOutbox(store, m, log)
	inbox := relay.NewInbox(store, m, log)
	locations := relay.NewLocations(store, matcher, m, cfg.Locations, log)
	sweeper := relay.NewSweeper(store, m, cfg.Retention(), log)

	svc := httpapi.NewService(outbox, inbox, locations, store, log)
	srv, err := server.New(server.Config{Addr: cfg.Addr(), Handler: httpapi.NewRouter(svc, m.Handler())})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	runner := jobs.NewRunner(log,
		jobs.Job{
			Name:     "cleanup",
			Interval: cfg.CleanupInterval(),
			Run: func(ctx context.Context) error {
				return sweeper.Sweep()
			},
		},
		jobs.Job{
			Name:     "bulk-match",
			Interval: cfg.BulkMatchInterval(),
			Run: func(ctx context.Context) error {
				// One failed location must not abort the rest.
				for id := int32(0); id < int32(cfg.Locations); id++ {
					if err := locations.TriggerBackground(id); err != nil {
						log.Error().Err(err).Int32("location", id).Msg("bulk matching failed")
					}
				}
				return nil
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runner.Start(ctx)
	defer runner.Stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.Addr()).Int("locations", cfg.Locations).Msg("server started")
	if err := srv.Start(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}
