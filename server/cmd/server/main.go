package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/obsidianstack/eventhub/pkg/ingest"
	"github.com/obsidianstack/eventhub/server/internal/alerts"
	"github.com/obsidianstack/eventhub/server/internal/api"
	"github.com/obsidianstack/eventhub/server/internal/auth"
	"github.com/obsidianstack/eventhub/server/internal/config"
	"github.com/obsidianstack/eventhub/server/internal/receiver"
	"github.com/obsidianstack/eventhub/server/internal/scraper"
	"github.com/obsidianstack/eventhub/server/internal/store"
	"github.com/obsidianstack/eventhub/server/internal/ws"
)

// pruneEvery is how often expired history rows are deleted.
const pruneEvery = time.Hour

func main() {
	configPath := pflag.StringP("config", "c", "server.yaml", "path to config file")
	pflag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("eventhub-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	s := cfg.Server

	slog.Info("config loaded",
		"grpc_port", s.GRPCPort,
		"http_port", s.HTTPPort,
		"auth_mode", s.Auth.Mode,
		"event_ttl", s.Events.TTL,
		"agents", len(s.Agents),
		"alert_rules", len(s.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New(s.Events.TTL, s.Events.RecentBatches)
	go st.Run(ctx)

	var hist *store.History
	if s.Storage.SQLitePath != "" {
		hist, err = store.OpenHistory(s.Storage.SQLitePath)
		if err != nil {
			slog.Error("failed to open history", "path", s.Storage.SQLitePath, "err", err)
			os.Exit(1)
		}
		defer hist.Close()
		slog.Info("batch history enabled", "path", s.Storage.SQLitePath, "retention", s.Storage.Retention)
		if s.Storage.Retention > 0 {
			go pruneHistory(ctx, hist, s.Storage.Retention)
		}
	}

	verifier := auth.New(s.Auth.Mode, s.Auth.EffectiveHeader(), s.Auth.KeyName, s.Auth.Key())
	if verifier.Mode() != "none" && s.Auth.Key() == "" {
		slog.Warn("auth key env is empty, requests will not be checked", "key_env", s.Auth.KeyEnv)
	}
	recv := receiver.New(st, hist, s.AcceptStatus)

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(auth.Interceptor(verifier)))
	ingest.RegisterIngestServer(grpcSrv, recv)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", s.GRPCPort, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("gRPC receiver listening", "port", s.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	alertEngine := alerts.New(s.Alerts)
	scr := scraper.New(s.Agents, s.ScrapeInterval)
	scr.Subscribe(alertEngine.Evaluate)
	go scr.Run(ctx)

	hub := ws.New(st, s.StreamInterval)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ingest", auth.Middleware(verifier, recv))
	mux.Handle("/api/", api.New(st, scr, hist, alertEngine))
	mux.Handle("/ws/stream", hub)
	mux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", s.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("eventhub-server shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	grpcSrv.GracefulStop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck

	t := st.Totals()
	slog.Info("eventhub-server stopped",
		"batches", t.Batches,
		"events", t.Events,
		"duplicates", t.Duplicates,
	)
}

// pruneHistory deletes rows older than retention once at startup and then
// every pruneEvery until ctx ends.
func pruneHistory(ctx context.Context, hist *store.History, retention time.Duration) {
	t := time.NewTicker(pruneEvery)
	defer t.Stop()
	for {
		n, err := hist.Prune(ctx, time.Now().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			slog.Warn("history prune failed", "err", err)
		case n > 0:
			slog.Info("history pruned", "rows", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
