package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"or3sync/internal/app/server"
	"or3sync/internal/app/server/config"
	"or3sync/internal/infrastructure/storage"
	"or3sync/internal/utils/logger"
)

func main() {
	conf := config.MustLoad()
	log := logger.New(conf.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, conf, storage.DefaultRegistry(), log)
	if err != nil {
		log.Error("failed to start", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
