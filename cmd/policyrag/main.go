package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"policyrag/internal/app"
	"policyrag/internal/config"
	"policyrag/internal/logging"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	root := &cobra.Command{
		Use:           "policyrag",
		Short:         "Ask questions about your insurance policies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to YAML config file (default ./config.yaml or ~/.config/policyrag/config.yaml)")

	root.AddCommand(
		chatCMD(&cfgPath),
		askCMD(&cfgPath),
		ingestCMD(&cfgPath),
		statsCMD(&cfgPath),
		samplesCMD(&cfgPath),
		resetCMD(&cfgPath),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(path)
}

// startup loads the config, builds the logger and assembles the agent.
// quiet routes logs to a file so they do not interleave with a full-screen UI.
func startup(ctx context.Context, cfgPath string, quiet bool) (*app.App, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logCfg := cfg.Log
	if quiet && logCfg.File == "" {
		logCfg.File = filepath.Join(cfg.App.DataDir, "policyrag.log")
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("initialize agent: %w", err)
	}
	if addr := cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := a.Metrics.Serve(addr); err != nil {
				logger.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
			}
		}()
		logger.Info("serving metrics", zap.String("addr", addr))
	}
	return a, nil
}

func shutdown(a *app.App) {
	if err := a.Close(); err != nil {
		a.Logger.Warn("close", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
