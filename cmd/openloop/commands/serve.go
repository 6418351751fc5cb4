package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openloop-ai/openloop/internal/config"
	"github.com/openloop-ai/openloop/internal/logging"
	"github.com/openloop-ai/openloop/internal/server"
	"github.com/openloop-ai/openloop/internal/storage"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only monitor server",
	Long: `Start the monitor server: persisted session logs over HTTP plus a
live SSE event feed. The server never touches in-flight turn state.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default :7777)")
}

func runServe(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = paths.StoragePath()
	}
	store := storage.New(dataDir)

	srvCfg := server.DefaultConfig()
	if cfg.Monitor.Addr != "" {
		srvCfg.Addr = cfg.Monitor.Addr
	}
	if serveAddr != "" {
		srvCfg.Addr = serveAddr
	}
	srv := server.New(srvCfg, store)

	log := logging.For("server")
	go func() {
		log.Info().Str("addr", srvCfg.Addr).Str("data", dataDir).Msg("monitor listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("monitor server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
