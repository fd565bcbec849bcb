package main

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/obsidianstack/eventhub/agent/internal/config"
	"github.com/obsidianstack/eventhub/agent/internal/dispatch"
	"github.com/obsidianstack/eventhub/agent/internal/intake"
	"github.com/obsidianstack/eventhub/agent/internal/metrics"
	"github.com/obsidianstack/eventhub/agent/internal/transport"
)

func main() {
	configPath := pflag.StringP("config", "c", "agent.yaml", "path to config file")
	fromStdin := pflag.Bool("stdin", false, "record each line read from stdin as an event")
	shutdownTimeout := pflag.Duration("shutdown-timeout", 30*time.Second, "how long to wait for in-flight batches on exit")
	pflag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("eventhub-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	a := cfg.Agent
	if lv, err := config.ParseLevel(a.LogLevel); err == nil {
		level.Set(lv)
	}
	slog.Info("config loaded",
		"device", a.DeviceName,
		"transport", a.Transport.Type,
		"process_interval", a.ProcessInterval,
		"max_retries", a.MaxRetries,
	)

	tr, err := transport.New(a.Transport, a.DeviceName)
	if err != nil {
		slog.Error("failed to build transport", "err", err)
		os.Exit(1)
	}

	m, metricsHandler, err := metrics.New(a.DeviceName)
	if err != nil {
		slog.Error("failed to init metrics", "err", err)
		os.Exit(1)
	}

	loop := dispatch.New(tr, dispatch.Config{
		ProcessInterval: a.ProcessInterval,
		MaxRetries:      a.MaxRetries,
		DeltaBackoff:    a.DeltaBackoff,
		SendTimeout:     a.SendTimeout,
	}, m)
	if err := m.ObserveInFlight(func() int64 { return loop.Stats().InFlight }); err != nil {
		slog.Warn("in-flight gauge unavailable", "err", err)
	}
	if err := m.ObserveBuffered(func() int64 { return int64(loop.Stats().Buffered) }); err != nil {
		slog.Warn("buffer depth gauge unavailable", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loop.Start()

	// Hot reload applies the log level only; the running loop keeps its timings.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			if lv, err := config.ParseLevel(updated.Agent.LogLevel); err == nil {
				level.Set(lv)
			}
			slog.Info("config hot-reloaded", "log_level", updated.Agent.LogLevel)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	var httpSrv *http.Server
	if a.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		mux.Handle("/", intake.New(loop, m))
		httpSrv = &http.Server{
			Addr:              a.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("intake listening", "addr", a.ListenAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("intake server stopped", "err", err)
			}
		}()
	}

	if *fromStdin {
		go readStdin(ctx, loop)
	}

	<-ctx.Done()
	slog.Info("eventhub-agent shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer done()

	if httpSrv != nil {
		httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	}
	if err := loop.Close(shutdownCtx); err != nil {
		slog.Warn("dispatch did not drain before deadline", "err", err)
	}
	if err := tr.Close(); err != nil {
		slog.Warn("transport close", "err", err)
	}
	m.Shutdown(context.Background()) //nolint:errcheck

	st := loop.Stats()
	slog.Info("eventhub-agent stopped",
		"recorded", st.Recorded,
		"delivered", st.Delivered,
		"abandoned", st.Abandoned,
	)
}

// readStdin records every non-blank line until EOF or ctx ends.
func readStdin(ctx context.Context, loop *dispatch.Loop) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		if id := strings.TrimSpace(sc.Text()); id != "" {
			loop.Record(id)
		}
	}
	if err := sc.Err(); err != nil {
		slog.Warn("stdin reader stopped", "err", err)
		return
	}
	slog.Info("stdin closed, flushing")
	loop.Flush()
}
