package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"attachflow/internal/config"
	"attachflow/internal/logger"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "attachflow",
		Short:         "Attachment ingestion service for chat composers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv("ATTACHFLOW_CONFIG"),
		"config file (json, toml or yaml); defaults to $ATTACHFLOW_CONFIG or config.json")

	load := func() (*config.Config, logger.Logger, error) {
		cfg, err := loadConfig(cfgPath)
		if err != nil {
			return nil, nil, err
		}
		log := logger.New(&logger.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
		return cfg, log, nil
	}

	root.AddCommand(serveCmd(load), extractCmd(load))
	return root
}

// loadConfig falls back to defaults when no file was named and config.json is absent.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat("config.json"); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
