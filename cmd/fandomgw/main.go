package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/fandom-scrape-gateway/internal/config"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/logging"
	"github.com/JakeFAU/fandom-scrape-gateway/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	modeFlag := flag.String("mode", string(server.ModeAll), "Listeners to run: all, gateway, or scrap")
	flag.Parse()

	if err := run(*cfgPath, *modeFlag); err != nil {
		fmt.Fprintf(os.Stderr, "fandomgw: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, modeFlag string) error {
	mode, err := server.ParseMode(modeFlag)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, cfg, mode, logger)
	if err != nil {
		logger.Error("application build failed", zap.Error(err))
		_ = logger.Sync()
		return err
	}
	if err := app.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
