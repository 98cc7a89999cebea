package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/animation-agent/internal/config"
	"github.com/jonathan/animation-agent/internal/registry"
	"github.com/jonathan/animation-agent/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Start an HTTP server that streams generate and export runs over SSE and serves run status, artifacts and metrics.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default: the port setting)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	jwtCfg, err := config.NewJWTConfig()
	if err != nil {
		return err
	}
	if jwtCfg == nil {
		log.Println("JWT_SECRET not set, all requests run as anonymous")
	}

	janitor, err := registry.NewJanitor(a.registry, a.cfg.PurgeSchedule, a.cfg.RunRetention(), a.logger)
	if err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	port := a.cfg.Port
	if servePort > 0 {
		port = servePort
	}
	if err := os.MkdirAll(a.cfg.ArtifactsDir, 0755); err != nil {
		return fmt.Errorf("failed to create artifacts dir: %w", err)
	}

	srv := server.New(server.Config{
		Port:      port,
		StaticDir: a.cfg.ArtifactsDir,
		JWT:       jwtCfg,
	}, a.orchestrator, a.logger)
	return srv.Start()
}
