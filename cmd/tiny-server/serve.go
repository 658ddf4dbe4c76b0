package main

import (
	"github.com/spf13/cobra"

	"github.com/searchktools/tiny-server/app"
	"github.com/searchktools/tiny-server/config"
	"github.com/searchktools/tiny-server/core/http"
	"github.com/searchktools/tiny-server/logging"
)

var serveFlags struct {
	addr    string
	workers int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().IntVar(&serveFlags.workers, "workers", 0, "worker count (overrides server.workers)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{
		Level:     cfg.Log.SlogLevel(),
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	logger.Info("starting tiny-server", "version", Version, "commit", Commit)

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	a.Server().GET("/", func(*http.Request) *http.Response {
		return http.NewResponse().WithString("tiny-server " + Version)
	})

	return a.RunWithSignals()
}

// loadConfig reads the config file and applies serve flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = serveFlags.addr
	}
	if cmd.Flags().Changed("workers") {
		cfg.Server.Workers = serveFlags.workers
	}
	return cfg, cfg.Validate()
}
