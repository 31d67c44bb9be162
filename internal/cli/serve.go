package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clustercoder/bubbleOne/internal/audit"
	"github.com/clustercoder/bubbleOne/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and the background worker",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "Listen port (default 8000)")
	serveCmd.Flags().Bool("no-worker", false, "Do not start the background tick loop")
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	hub := audit.NewHub(log.With("component", "stream"))
	a, err := newApp(cfg, log, hub)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(a.engine, a.worker, VersionString(), cfg.Server.CORSOrigins)
	srv.SetPlanner(a.local)
	srv.SetLedger(a.ledger)
	srv.SetHub(hub)
	srv.SetLogger(a.log.With("component", "http"))

	noWorker, _ := cmd.Flags().GetBool("no-worker")
	if cfg.Worker.Enabled && !noWorker {
		a.worker.Start()
		defer a.worker.Stop()
	}

	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("bubbleone serving", "addr", addr, "db", a.db.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return err
	}
	a.log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
