package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stewardlabs/steward/internal/core"
	"github.com/stewardlabs/steward/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only inspection API",
	Long: `Start the HTTP server exposing run summaries, per-run state and
liveness, the event log, and snapshot history. The API is read-only;
it never mutates pipeline state.

Examples:
  # Start with defaults (127.0.0.1:7171)
  steward serve

  # Bind a different address
  steward serve --addr 0.0.0.0:8080`,
	RunE: runServe,
}

var (
	serveAddr   string
	serveNoCORS bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to bind (default from config)")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false, "Disable CORS headers")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = core.CloseStore(st) }()

	webCfg := web.DefaultConfig()
	webCfg.Addr = cfg.Serve.Addr
	webCfg.AllowedOrigins = cfg.Serve.AllowedOrigins
	webCfg.EnableCORS = !serveNoCORS
	if serveAddr != "" {
		webCfg.Addr = serveAddr
	}

	srv := web.NewServer(webCfg, st, web.WithLogger(logger))
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	return srv.Shutdown(context.Background())
}
