package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	flagship "github.com/TimurManjosov/flagship-go"
	"github.com/TimurManjosov/flagship-go/internal/api"
	"github.com/TimurManjosov/flagship-go/internal/cache"
	"github.com/TimurManjosov/flagship-go/internal/config"
	"github.com/TimurManjosov/flagship-go/internal/logging"
	"github.com/TimurManjosov/flagship-go/internal/override"
	"github.com/TimurManjosov/flagship-go/internal/store"
	"github.com/TimurManjosov/flagship-go/internal/telemetry"
	"github.com/TimurManjosov/flagship-go/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal("config", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("config", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fatal("logging", err)
	}
	telemetry.Init()

	ctx := context.Background()
	backend, err := store.NewStore(ctx, cfg.CacheType, cfg.CacheDSN())
	if err != nil {
		logger.Fatal().Err(err).Str("cache_type", cfg.CacheType).Msg("cache backend")
	}
	defer backend.Close()

	opts, err := clientOptions(cfg, backend, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("client options")
	}
	client, err := flagship.NewClient(cfg.SDKKey, opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("client")
	}
	defer client.Close()

	client.Hooks().OnConfigChanged(func(doc *flagship.Document) {
		logger.Info().Int("settings", len(doc.Settings)).Msg("config changed")
	})
	if len(cfg.WebhookURLs) > 0 {
		stopWebhooks := notifyWebhooks(client, cfg, logger)
		defer stopWebhooks()
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewServer(client, api.Options{RateLimitPerIP: cfg.RateLimitPerIP, Logger: logger}).Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}

	serve(logger, "sidecar", srv)
	serve(logger, "metrics", metricsSrv)

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctxShut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShut)
	_ = metricsSrv.Shutdown(ctxShut)
	logger.Info().Msg("stopped")
}

func serve(logger zerolog.Logger, name string, srv *http.Server) {
	go func() {
		logger.Info().Str("server", name).Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Str("server", name).Msg("server")
		}
	}()
}

// notifyWebhooks posts a config changed event to every webhook URL whenever the
// client loads a new document. The returned func stops notifications and
// waits for queued deliveries.
func notifyWebhooks(client *flagship.Client, cfg *config.Config, logger zerolog.Logger) func() {
	endpoints := make([]webhook.Endpoint, 0, len(cfg.WebhookURLs))
	for _, u := range cfg.WebhookURLs {
		endpoints = append(endpoints, webhook.Endpoint{URL: u, Secret: cfg.WebhookSecret})
	}
	dispatcher := webhook.NewDispatcher(endpoints, webhook.Options{MaxRetries: cfg.WebhookMaxRetries, Logger: logger})

	changes, unsubscribe := client.Subscribe()
	prev := client.Snapshot(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for snap := range changes {
			if snap == prev {
				continue
			}
			dispatcher.Dispatch(webhook.NewEventBuilder(time.Now()).Between(prev, snap).Build())
			prev = snap
		}
	}()

	return func() {
		unsubscribe()
		<-done
		_ = dispatcher.Close()
	}
}

// clientOptions maps validated settings onto client options.
func clientOptions(cfg *config.Config, backend store.Store, logger *zerolog.Logger) (flagship.Options, error) {
	mode, err := cache.ParsePollingMode(cfg.PollingMode)
	if err != nil {
		return flagship.Options{}, err
	}
	opts := flagship.Options{
		PollingMode:  mode,
		PollInterval: cfg.PollInterval,
		BaseURL:      cfg.BaseURL,
		Cache:        backend,
		Logger:       logger,
	}
	if cfg.DataGovernance == "eu" {
		opts.DataGovernance = flagship.EUOnly
	}

	if cfg.OverridesFile != "" {
		behaviour, err := override.ParseBehaviour(cfg.OverridesBehaviour)
		if err != nil {
			return flagship.Options{}, err
		}
		opts.Overrides, err = flagship.OverridesFromFile(cfg.OverridesFile, behaviour)
		if err != nil {
			return flagship.Options{}, err
		}
	}
	return opts, nil
}

func fatal(what string, err error) {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	logger.Fatal().Err(err).Msg(what)
}
