package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moltbunker/solverbond/internal/api"
	"github.com/moltbunker/solverbond/internal/config"
	"github.com/moltbunker/solverbond/internal/engine"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/internal/logging"
	"github.com/moltbunker/solverbond/internal/reputation"
	sig "github.com/moltbunker/solverbond/internal/signal"
	"github.com/moltbunker/solverbond/internal/util"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath(), "Path to config file")
	listenAddr = flag.String("listen", "", "Override the API listen address")
	logLevel   = flag.String("log-level", "", "Override the log level (debug, info, warn, error)")
	watch      = flag.Bool("watch", true, "Re-apply policy when the config file changes")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *listenAddr != "" {
		cfg.API.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.Daemon.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Daemon.LogLevel)
	if err != nil {
		return err
	}
	logging.Setup(logging.Options{Level: level, Format: cfg.Daemon.LogFormat, Redact: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	chain := ledger.New(big.NewInt(cfg.Chain.ChainID), ledger.SystemClock{})
	engine.Fund(chain, cfg.Genesis)
	eng, err := engine.Deploy(cfg, chain)
	if err != nil {
		return err
	}
	defer eng.Close()

	// Outcome sinks
	scorer := reputation.NewScorer(reputation.DefaultWeights())
	broadcaster := sig.NewBroadcaster()
	sinks := []sig.Sink{scorer, broadcaster}
	if cfg.Notifier.WebhookURL != "" {
		timeout := time.Duration(cfg.Notifier.WebhookTimeout) * time.Second
		sinks = append(sinks, sig.NewWebhookSink(cfg.Notifier.WebhookURL, timeout))
	}
	retry := util.DefaultRetryConfig()
	retry.MaxRetries = cfg.Notifier.MaxRetries
	notifier := sig.NewNotifier(sig.Options{
		BufferSize: cfg.Notifier.BufferSize,
		Retry:      retry,
		Recorder:   eng.Metrics,
	}, sinks...)
	detach := notifier.Attach(chain)
	defer detach()
	notifier.Start(ctx)
	defer notifier.Stop()

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(api.ServerConfigFrom(cfg.API), eng)
		server.SetReputation(scorer)
		server.SetBroadcaster(broadcaster)
		server.SetNotifier(notifier)
		if err := server.Start(ctx); err != nil {
			return err
		}
	} else {
		defer broadcaster.Close()
	}

	var watchDone <-chan struct{}
	if *watch {
		watchDone = util.SafeGoWithName("config-watch", func() {
			err := config.Watch(ctx, *configPath, func(next *config.Config) {
				if err := eng.ApplyPolicy(next); err != nil {
					logging.Error("policy update failed", logging.Component("daemon"), logging.Err(err))
				}
			})
			if err != nil {
				logging.Warn("config watch stopped", logging.Component("daemon"), logging.Err(err))
			}
		})
	}

	logging.Info("solverbond daemon started",
		logging.Component("daemon"),
		"chain_id", cfg.Chain.ChainID,
		"dispute_mode", cfg.Policy.DisputeMode,
		"api", cfg.API.Enabled,
		"listen", cfg.API.ListenAddr)

	<-sigChan
	logging.Info("shutting down", logging.Component("daemon"))
	cancel()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logging.Error("API shutdown failed", logging.Component("daemon"), logging.Err(err))
		}
	}
	if watchDone != nil {
		<-watchDone
	}
	return nil
}
