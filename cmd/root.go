package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/earthcopilot/mapview/internal/config"
)

var version = "dev"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "mapview",
	Short: "Map session controller for the Earth Copilot chat app",
	Long:  "Interprets chat backend imagery responses, drives Azure Maps or Leaflet clients over a websocket, and runs pin and comparison analyses.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional.
		_ = godotenv.Load()

		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return cfg.Validate(cmd.Name())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}
