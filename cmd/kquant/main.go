package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"kquant/internal/app"
	"kquant/internal/config"
	"kquant/internal/logger"
)

func main() {
	configPath := os.Getenv("KQUANT_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Errorf("load config %s: %v", configPath, err)
		os.Exit(1)
	}

	if cfg.App.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.App.LogPath), 0o755); err != nil {
			logger.Errorf("create log dir: %v", err)
			os.Exit(1)
		}
		f, err := os.OpenFile(cfg.App.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Errorf("open log file: %v", err)
			os.Exit(1)
		}
		defer f.Close()
		logger.SetOutput(io.MultiWriter(os.Stdout, f))
	}
	logger.SetLevel(cfg.App.LogLevel)

	a, err := app.NewApp(cfg)
	if err != nil {
		logger.Errorf("init: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("kquant starting (env=%s, http=%s)", cfg.App.Env, cfg.App.HTTPAddr)
	if err := a.Run(ctx); err != nil {
		logger.Errorf("run: %v", err)
		os.Exit(1)
	}
	logger.Infof("kquant stopped")
}
