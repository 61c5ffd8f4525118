// Command paper features one highly cited research paper a day.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/yuhi-sa/daily-briefing/internal/app"
	"github.com/yuhi-sa/daily-briefing/internal/config"
	"github.com/yuhi-sa/daily-briefing/internal/logger"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := app.New(cfg, app.WithLogger(logger.L())).RunPaper(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
