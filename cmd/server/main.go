package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/andy6609/line-relay/internal/chat"
	"github.com/andy6609/line-relay/internal/config"
	"github.com/andy6609/line-relay/internal/logging"
)

const (
	listenAddr  = "localhost:8080"
	busCapacity = 10
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	srv := chat.NewServer(listenAddr, chat.NewBus(busCapacity), logger,
		chat.WithWriteTimeout(cfg.WriteTimeout),
	)
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	if _, port, err := net.SplitHostPort(srv.Addr().String()); err == nil {
		fmt.Printf("Listening on port %s...\n", port)
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return srv.Serve(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		srv.Stop()
		return nil
	})

	if cfg.MetricsAddr != "" {
		eg.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddr, logger)
		})
	}

	if err := eg.Wait(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
