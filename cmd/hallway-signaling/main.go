package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hallwaylabs/signaling/internal/chat"
	"github.com/hallwaylabs/signaling/internal/config"
	"github.com/hallwaylabs/signaling/internal/directory"
	"github.com/hallwaylabs/signaling/internal/gateway"
	"github.com/hallwaylabs/signaling/internal/httpserver"
	"github.com/hallwaylabs/signaling/internal/metrics"
	"github.com/hallwaylabs/signaling/internal/origin"
	"github.com/hallwaylabs/signaling/internal/store"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting hallway-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"store", cfg.Store,
		"chat_history_limit", cfg.ChatHistoryLimit,
	)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("ice configuration invalid; /ice and /readyz will report it", "err", err)
	}

	m := metrics.New()

	var (
		roomsKV   store.KV
		historyKV store.KV
		chatLog   chat.Log
		nc        *nats.Conn
	)
	switch cfg.Store {
	case config.StoreNATS:
		nc, err = nats.Connect(cfg.NATSURL,
			nats.Name("hallway-signaling"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			logger.Error("failed to connect to nats", "url", cfg.NATSURL, "err", err)
			os.Exit(1)
		}
		defer nc.Drain()

		js, err := nc.JetStream()
		if err != nil {
			logger.Error("failed to open jetstream context", "err", err)
			os.Exit(1)
		}
		roomsKV, err = store.NewNATSKV(js, cfg.RoomsBucket)
		if err != nil {
			logger.Error("failed to open rooms bucket", "err", err)
			os.Exit(1)
		}
		historyKV, err = store.NewNATSKV(js, cfg.HistoryBucket)
		if err != nil {
			logger.Error("failed to open history bucket", "err", err)
			os.Exit(1)
		}
		chatLog, err = chat.NewNATSLog(js, cfg.ChatStream)
		if err != nil {
			logger.Error("failed to open chat stream", "err", err)
			os.Exit(1)
		}
	case config.StoreMemory:
		logger.Warn("using in-memory store; rooms and chat will not survive restarts")
		roomsKV = store.NewMemKV()
		historyKV = store.NewMemKV()
		chatLog = chat.NewMemLog()
	default:
		// Validated by config.Load.
		logger.Error("unknown store", "store", cfg.Store)
		os.Exit(2)
	}

	dir := directory.New(roomsKV, logger)
	history := chat.NewHistory(historyKV, cfg.ChatHistoryLimit)
	bridge := chat.NewBridge(chatLog, history, m, logger)

	gw := gateway.New(gateway.Options{
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MessagesPerSecond: cfg.MessagesPerSecond,
		SendQueueSize:     cfg.SendQueueSize,
		PingInterval:      cfg.PingInterval,
		PongWait:          cfg.IdleTimeout,
	}, dir, bridge, history, origin.NewPolicy(cfg.AllowedOrigins), m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The chat consumer is restarted on failure; unacknowledged entries are
	// redelivered, so a crash in the loop loses nothing.
	go func() {
		for {
			err := bridge.Run(ctx, gw)
			if ctx.Err() != nil {
				return
			}
			logger.Error("chat consumer stopped; restarting", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	srv := httpserver.New(cfg, logger, resolveBuildInfo(buildCommit, buildTime), dir, m, gw)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) httpserver.BuildInfo {
	// Prefer ldflags-injected values but fall back to Go build info, which is
	// useful for `go run` / dev builds.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}
}
