package main

import (
	"context"
	"log"

	"github.com/roushou/adpilot/internal/app"
	"github.com/roushou/adpilot/internal/platform/config"
	"github.com/roushou/adpilot/internal/platform/logging"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := app.ContextWithShutdownSignal(context.Background(), logging.New(cfg.LogLevel))
	defer cancel()

	application, err := app.New(ctx, cfg, nil, nil)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Fatalf("run app: %v", err)
	}
}
