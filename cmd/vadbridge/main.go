// Command vadbridge runs the VAD boundary as a small daemon: it wires a
// microphone capture source into one session and serves metrics and health
// endpoints. It doubles as the reference consumer of the bridge API.
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
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vadbridge/internal/capture"
	"github.com/MrWong99/vadbridge/internal/config"
	"github.com/MrWong99/vadbridge/internal/health"
	"github.com/MrWong99/vadbridge/internal/observe"
	"github.com/MrWong99/vadbridge/pkg/bridge"
	"github.com/MrWong99/vadbridge/pkg/engine/silero"
	"github.com/MrWong99/vadbridge/pkg/vad"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vadbridge: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("vadbridge starting",
		"engine", cfg.Engine.Name,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics provider ──────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise metrics provider", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Bridge ────────────────────────────────────────────────────────────────
	opts := []bridge.Option{
		bridge.WithMetrics(metrics),
		bridge.WithLogger(logger),
	}
	if cfg.Engine.Name == "silero" {
		opts = append(opts,
			bridge.WithModelFactory(silero.Factory{}),
			bridge.WithRuntime(silero.Runtime{LibraryPath: cfg.Engine.LibraryPath}),
		)
	}
	b, err := bridge.New(opts...)
	if err != nil {
		slog.Error("failed to initialise bridge", "err", err)
		return 1
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Warn("bridge close error", "err", err)
		}
	}()

	// ── HTTP endpoints ────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.RuntimeChecker(b)).Register(mux)

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shCtx)
	})

	// ── Capture session (optional) ────────────────────────────────────────────
	if cfg.Capture.Enabled {
		if err := runCapture(gctx, g, b, cfg); err != nil {
			slog.Error("failed to start capture", "err", err)
			return 1
		}
	} else {
		slog.Info("capture disabled; serving metrics and health only")
	}

	slog.Info("vadbridge ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runCapture creates one session, points the microphone at it, and keeps the
// pump on the errgroup so it shuts down with the rest of the daemon.
func runCapture(ctx context.Context, g *errgroup.Group, b *bridge.Bridge, cfg *config.Config) error {
	h := b.Create()
	if err := b.SetCallback(h, vad.CallbackFunc(logEvent)); err != nil {
		return err
	}
	if err := b.Init(h, cfg.VAD, cfg.Engine.ModelPath); err != nil {
		return fmt.Errorf("init session: %w (last error: %s)", err, b.LastError(h))
	}
	if err := b.Start(h); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	src, err := capture.NewSource(cfg.VAD, cfg.Capture.BufferFrames, slog.Default())
	if err != nil {
		return err
	}
	if err := src.Start(); err != nil {
		_ = src.Close()
		return err
	}

	g.Go(func() error {
		defer func() {
			if err := src.Close(); err != nil {
				slog.Warn("capture close error", "err", err)
			}
			if dropped := src.Dropped(); dropped > 0 {
				slog.Warn("capture dropped frames", "count", dropped)
			}
			b.Destroy(h)
		}()
		err := src.Run(ctx, func(frame []float32) error {
			return b.ProcessAudio(h, frame)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return nil
}

// logEvent is the daemon's callback: it narrates the detection stream so a
// human with a microphone can watch the boundary work.
func logEvent(ev vad.Event) {
	switch ev.Type {
	case vad.EventSpeechStart:
		slog.Info("speech start")
	case vad.EventRealSpeechStart:
		slog.Info("real speech start")
	case vad.EventSpeechEnd:
		slog.Info("speech end",
			"duration_ms", ev.DurationMs,
			"samples", len(ev.SpeechAudio),
		)
	case vad.EventMisfire:
		slog.Info("misfire")
	case vad.EventError:
		slog.Error("detection error", "code", ev.Code, "message", ev.Message)
	case vad.EventFrameProcessed:
		slog.Debug("frame processed",
			"probability", ev.Probability,
			"is_speech", ev.IsSpeech,
		)
	}
}
