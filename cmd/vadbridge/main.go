// Command vadbridge runs a voice session bridge as a daemon: one host
// connects over WebSocket on /host, starts and stops microphone VAD sessions,
// and receives speech events. Events that cannot reach a host go to the log
// and the diagnostic file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	micvad "github.com/cortexswarm/micvad-go"
	"github.com/cortexswarm/micvad-go/bridge"
	"github.com/cortexswarm/micvad-go/internal/config"
	"github.com/cortexswarm/micvad-go/internal/diaglog"
	"github.com/cortexswarm/micvad-go/internal/health"
	"github.com/cortexswarm/micvad-go/internal/hostws"
	"github.com/cortexswarm/micvad-go/internal/observe"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	flag.Parse()

	loader := config.Loader{Path: *configPath}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vadbridge: %v\n", err)
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("vadbridge starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"audio_source", cfg.Audio.Source,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		logger.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		logger.Error("failed to create metrics", "err", err)
		return 1
	}

	diag, err := diaglog.New(cfg.Server.DiagLogPath, cfg.Server.DiagLogMaxBytes)
	if err != nil {
		logger.Warn("diagnostic log disabled", "path", cfg.Server.DiagLogPath, "err", err)
		diag = diaglog.NewNoOp()
	}
	defer diag.Close()

	// The watcher, when a file is configured, owns the live config; session
	// defaults and the audio source are read from it at every start.
	current := func() *config.Config { return cfg }
	var watcher *config.Watcher
	if *configPath != "" {
		watcher, err = config.NewWatcher(loader, func(old, updated *config.Config) {
			applyReload(logger, level, diag, old, updated)
		}, config.WithWatcherLogger(logger))
		if err != nil {
			logger.Error("failed to watch config", "err", err)
			return 1
		}
		current = watcher.Current
	}

	var host *hostws.Server
	b := bridge.New(
		bridge.MicVAD(func() (micvad.Source, error) { return openSource(current().Audio) }),
		bridge.FallbackSink{
			Primary:    hostSink{&host},
			Fallback:   bridge.NewLogSink(logger, diag),
			OnFallback: metrics.RecordFallback,
		},
		bridge.WithLogger(logger),
		bridge.WithRecorder(metrics),
		bridge.WithTracer(observe.Tracer()),
	)
	host = hostws.New(b,
		func() bridge.SessionConfig { return current().Session },
		hostws.WithLogger(logger),
		hostws.WithDiagLog(diag),
		hostws.WithConnGauge(metrics.HostConnected),
	)

	probes := health.New(
		health.Check{Name: "model", Fn: func(context.Context) error {
			return micvad.CheckAssets(current().Session)
		}},
		health.Check{Name: "runtime", Fn: func(context.Context) error {
			ort := current().Session.OnnxRuntimePath
			if ort == "" {
				// Falls back to the system search path at load time.
				return nil
			}
			_, err := micvad.RuntimeLibrary(ort)
			return err
		}},
	)

	mux := http.NewServeMux()
	mux.Handle("GET /host", host)
	mux.Handle("GET /metrics", promhttp.Handler())
	probes.Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown requested")
		// The host goes first so no start can race the bridge teardown.
		host.Close()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		b.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("vadbridge stopped with error", "err", err)
		return 1
	}
	logger.Info("vadbridge stopped")
	return 0
}

// hostSink defers to the host server, which is built after the bridge it
// drives.
type hostSink struct{ srv **hostws.Server }

func (h hostSink) Deliver(handler, payload string) error {
	if *h.srv == nil {
		return bridge.ErrChannelUnavailable
	}
	return (*h.srv).Deliver(handler, payload)
}

func openSource(audio config.AudioConfig) (micvad.Source, error) {
	switch audio.Source {
	case config.SourceWAV:
		return bridge.WAVFile(audio.WAVPath, audio.Realtime)()
	default:
		return bridge.Microphone()
	}
}

// applyReload applies the settings that take effect without a restart. The
// listen address and diagnostic log path are fixed at startup.
func applyReload(logger *slog.Logger, level *slog.LevelVar, diag *diaglog.Logger, old, updated *config.Config) {
	if old.Server.LogLevel != updated.Server.LogLevel {
		level.Set(updated.Server.LogLevel.Level())
	}
	if old.Server.ListenAddr != updated.Server.ListenAddr || old.Server.DiagLogPath != updated.Server.DiagLogPath {
		logger.Warn("listen_addr and diag_log_path changes need a restart")
	}
	logger.Info("config applied",
		"log_level", updated.Server.LogLevel,
		"audio_source", updated.Audio.Source,
		"model", updated.Session.Model,
	)
	diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentDaemon,
		Event:     diaglog.EventConfigReload,
		Payload: map[string]any{
			"log_level":    updated.Server.LogLevel,
			"audio_source": updated.Audio.Source,
			"model":        updated.Session.Model,
		},
	})
}
