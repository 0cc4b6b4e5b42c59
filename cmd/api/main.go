package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saviocipriano12/pedraum-sub001/internal/config"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "api",
		Short:         "Payment-gated lead unlock engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config file")

	load := func() (config.Config, *slog.Logger, error) {
		envPath, envErr := config.LoadDotEnv()
		cfg, err := config.Load(configFile)
		if err != nil {
			return config.Config{}, nil, err
		}
		logger := newLogger(os.Stdout, cfg)
		switch {
		case envErr != nil:
			logger.Warn("failed to load .env", "event", "config_env_failed", "module", "unlock-engine", "layer", "bootstrap", "error", envErr.Error())
		case envPath != "":
			logger.Info("loaded env file", "event", "config_env_loaded", "module", "unlock-engine", "layer", "bootstrap", "path", envPath)
		}
		return cfg, logger, nil
	}

	root.AddCommand(serveCmd(load))
	root.AddCommand(workerCmd(load))
	root.AddCommand(migrateCmd(load))
	return root
}

type loader func() (config.Config, *slog.Logger, error)

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
