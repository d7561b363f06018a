package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/strand-ai/strand/internal/config"
	"github.com/strand-ai/strand/internal/core"
	"github.com/strand-ai/strand/internal/logging"
	"github.com/strand-ai/strand/internal/provider"
	"github.com/strand-ai/strand/internal/server"
	"github.com/strand-ai/strand/internal/storage"
)

var (
	servePort int
	serveHost string
	serveDir  string
	dataDir   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the strand server",
	Long: `Start strand as a headless server that exposes the orchestration
core over an HTTP API, with event streaming via SSE.

Without a configured model provider the server runs on the echo
transport, which completes every task immediately.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "hostname", "", "Hostname to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory for persisted sessions")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir := serveDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		workDir = wd
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Output: os.Stderr,
		Pretty: cfg.Log.Pretty,
	})
	log := logging.ForComponent("serve")
	log.Info().Str("version", Version).Str("workDir", workDir).Msg("starting strand server")

	store := storage.New(resolveDataDir())

	// Provider adapters register through provider.Transport; with none
	// configured the echo transport keeps the API usable.
	var transport provider.Transport = provider.EchoTransport{}

	c := core.New(cfg, transport, core.Options{
		Store:   store,
		WorkDir: workDir,
	})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	c.Start(ctx)

	srv := server.New(cfg.Server, c)
	go func() {
		log.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}
	c.Shutdown()

	log.Info().Msg("stopped")
	return nil
}

// resolveDataDir picks the session data directory: flag, then
// STRAND_DATA_DIR, then ~/.local/share/strand.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if dir := os.Getenv("STRAND_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".strand"
	}
	return filepath.Join(home, ".local", "share", "strand")
}
