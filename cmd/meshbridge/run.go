package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/meshbridge-project/meshbridge/internal/api"
	"github.com/meshbridge-project/meshbridge/internal/cli"
	"github.com/meshbridge-project/meshbridge/internal/config"
	"github.com/meshbridge-project/meshbridge/internal/connector"
	"github.com/meshbridge-project/meshbridge/internal/db"
	"github.com/meshbridge-project/meshbridge/internal/events"
	"github.com/meshbridge-project/meshbridge/internal/health"
	"github.com/meshbridge-project/meshbridge/internal/metrics"
	"github.com/meshbridge-project/meshbridge/internal/protocol"
	"github.com/meshbridge-project/meshbridge/internal/scheduler"
	"github.com/meshbridge-project/meshbridge/internal/telemetry"
	"github.com/meshbridge-project/meshbridge/internal/util"
)

var noConsole bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the radio and start bridging (default)",
	Args:  cobra.NoArgs,
	RunE:  runBridge,
}

func init() {
	runCmd.Flags().BoolVar(&noConsole, "no-console", false, "disable the interactive console")
}

func runBridge(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := util.InitLogger(cfg.GetLogging()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", util.Version).
		Str("config", cfg.Path()).
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("arch", sysInfo.Architecture).
		Msg("starting meshbridge")

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return errors.New("configuration validation failed, please fix the errors above")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics.Register()
	bus := events.NewBus()
	metrics.Subscribe(bus)

	// Optional sinks stay nil interfaces when disabled.
	var (
		notifier    *connector.DiscordNotifier
		notifierSrc api.Notifier
		history     *db.HistoryStore
		historySrc  api.History
		mqttHandler *telemetry.MQTTHandler
	)

	discordCfg := cfg.GetDiscord()
	if len(discordCfg.Channels) > 0 {
		notifier = connector.NewDiscordNotifier(discordCfg)
		notifier.Subscribe(bus)
		notifierSrc = notifier
		log.Info().Strs("targets", notifier.Targets()).Msg("Discord notifier enabled")
	} else {
		log.Warn().Msg("no Discord channels configured, events will not be posted")
	}

	if histCfg := cfg.GetHistory(); histCfg.Enabled {
		history, err = db.NewHistoryStore(histCfg.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open history store, history disabled")
		} else {
			defer history.Close()
			history.Subscribe(bus)
			historySrc = history
		}
	}

	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(mqttCfg)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			mqttHandler.Subscribe(bus)
		}
	}

	radio := connector.NewMeshCoreConnector(cfg.GetMeshCore(), protocol.NewDecoder(nil), bus)

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := radio.ManageConnection(ctx); err != nil {
			errCh <- fmt.Errorf("radio: %w", err)
		}
	}()

	if notifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			notifier.Run(ctx)
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	healthMgr := health.NewManager(cfg, radio)
	if notifier != nil {
		healthMgr.SetDependencies(notifier)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if apiCfg := cfg.GetAPI(); apiCfg.Enabled {
		apiServer := api.NewServer(apiCfg, radio)
		apiServer.SetDependencies(notifierSrc, historySrc)
		apiServer.SetHealth(healthMgr)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("status API failed (non-fatal)")
			}
		}()
	}

	sched := scheduler.NewScheduler(cfg, radio)
	{
		var (
			queue  scheduler.QueueSource
			pruner scheduler.Pruner
		)
		if notifier != nil {
			queue = notifier
		}
		if history != nil {
			pruner = history
		}
		sched.SetDependencies(queue, pruner)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if !noConsole {
		console := cli.NewCLI(radio, cancel)
		var nodes cli.NodeLister
		if history != nil {
			nodes = history
		}
		console.SetDependencies(notifierSrc, nodes)
		// not in wg: the stdin reader cannot be interrupted
		go console.Start(ctx)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
		cancel()
	}

	log.Info().Msg("initiating graceful shutdown...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	bus.Stop()

	if notifier != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		notifier.Flush(flushCtx)
		flushCancel()
	}

	log.Info().Msg("meshbridge stopped")
	return runErr
}
