package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatrelay/chatrelay/pkg/config"
	"github.com/chatrelay/chatrelay/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	srv, err := server.NewRelayServer(cfg)
	if err != nil {
		slog.Error("Failed to create relay server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		slog.Error("Failed to start relay server", "error", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop

	slog.Info("Shutting down", "signal", sig.String())
	srv.Stop(ctx)
}
