package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"parley/internal/cli"
	"parley/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	deps := &cli.Dependencies{Config: cfg, Logger: logger}
	return cli.NewRootCmd(deps).Execute()
}
