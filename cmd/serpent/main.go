// Serpent - multiplayer snake server.
//
// Serpent accepts game clients over a binary framed TCP protocol, matches
// queued players into rooms, runs each room on a fixed tick, exposes a
// monitoring API with websocket spectating, and publishes lifecycle
// telemetry via MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/serpent-project/serpent/internal/api"
	"github.com/serpent-project/serpent/internal/cli"
	"github.com/serpent-project/serpent/internal/config"
	"github.com/serpent-project/serpent/internal/events"
	"github.com/serpent-project/serpent/internal/health"
	"github.com/serpent-project/serpent/internal/lobby"
	"github.com/serpent-project/serpent/internal/network"
	"github.com/serpent-project/serpent/internal/scheduler"
	"github.com/serpent-project/serpent/internal/telemetry"
	"github.com/serpent-project/serpent/internal/util"
)

const (
	AppName    = "Serpent"
	AppVersion = "1.0.0"
	Banner     = `
   ____                             _
  / ___|  ___ _ __ _ __   ___ _ __ | |_
  \___ \ / _ \ '__| '_ \ / _ \ '_ \| __|
   ___) |  __/ |  | |_) |  __/ | | | |_
  |____/ \___|_|  | .__/ \___|_| |_|\__|
                  |_|  v%s
 Multiplayer snake server
`
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	noCLI := flag.Bool("no-cli", false, "disable the interactive console")
	flag.Parse()

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first, reconfigured after the config is loaded.
	logFile, err := util.InitLogger(util.DefaultLogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Serpent")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging := cfg.GetLogging()
	logCfg := util.DefaultLogConfig()
	logCfg.Level = logging.Level
	logCfg.Directory = logging.Directory
	logCfg.MaxBackups = logging.MaxBackups
	if f, err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	} else {
		logFile.Close()
		logFile = f
	}
	defer logFile.Close()

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	localIP, err := util.GetLocalIP()
	if err != nil {
		log.Debug().Err(err).Msg("failed to detect local IP")
	}
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Str("local_ip", localIP).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	mgr, err := lobby.NewManager(cfg, eventBus)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create lobby")
	}

	serverCfg := cfg.GetServer()
	if !config.IsPortAvailable(serverCfg.Port) {
		log.Warn().Int("port", serverCfg.Port).Msg("game port is in use, the listener will retry")
	}
	tcpListener := network.NewTCPListener(serverCfg.Address(), serverCfg.WriteTimeout(), mgr, nil)

	healthMgr := health.NewManager(cfg.GetHealth(), eventBus, mgr, tcpListener.Registry())
	sched := scheduler.NewScheduler(cfg.GetLogging(), mgr)

	var apiServer *api.Server
	if cfg.GetAPI().Enabled {
		apiServer = api.NewServer(cfg, mgr, AppVersion)
	}

	var mqttHandler *telemetry.MQTTHandler
	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(mqttCfg, eventBus, AppVersion)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", serverCfg.Address()).Msg("starting TCP listener")
		if err := startWithRetry(ctx, "TCP listener", tcpListener.Start, 15); err != nil {
			log.Error().Err(err).Msg("TCP listener failed after retries")
			errCh <- fmt.Errorf("tcp listener: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting matchmaking")
		mgr.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health check manager")
		healthMgr.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.GetAPI().Port).Msg("starting status API")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// The console is not waited on: a blocked stdin read must not hold up exit.
	if !*noCLI {
		cliHandler := cli.NewCLI(mgr, eventBus, os.Stdout)
		go cliHandler.Start(ctx, os.Stdin)
	}

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		quitOnce.Do(func() { close(quitCh) })
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		// Kicks every player before the listener goes away.
		if err := eventBus.EmitSync(ctx, events.NewEvent(events.EventShutdown, "main",
			events.ShutdownPayload{Reason: "server shutting down"})); err != nil {
			log.Warn().Err(err).Msg("shutdown handler failed")
		}
	case <-quitCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
		mgr.KickAll("server error")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

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

	eventBus.Stop()
	log.Info().Msg("Serpent stopped")
}

// startWithRetry attempts to start a listener with retry on bind errors,
// waiting 3 seconds between attempts.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}
