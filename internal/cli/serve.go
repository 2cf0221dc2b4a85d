package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/imkarma/hivegate/internal/logging"
	"github.com/imkarma/hivegate/internal/server"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the intake and action endpoints over HTTP",
	Long: "Starts an HTTP server exposing POST /api/intake, POST /api/actions,\n" +
		"GET /healthz and GET /metrics. Stops gracefully on SIGINT or SIGTERM.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default: server.listen)")
}

func runServe(cmd *cobra.Command, args []string) error {
	p, err := mustPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	log := logging.Component("server")
	addr := serveListen
	if addr == "" {
		addr = appCfg.Server.Listen
	}

	srv := &server.Server{
		Intake:         p.Intake,
		Guardrail:      p.Guardrail,
		Worker:         p.Worker,
		Metrics:        p.Metrics,
		Health:         p.Store.Ping,
		RequestTimeout: appCfg.Server.RequestTimeout,
		Log:            log,
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	log.Info().Str("addr", addr).Msg("listening")
	fmt.Fprintf(cmd.OutOrStdout(), "hivegate serving on http://%s\n", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
