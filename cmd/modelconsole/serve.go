package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"modelconsole/internal/daemon"
	"modelconsole/internal/httpapi"
)

// poolSize bounds the number of distinct daemon addresses served via X-Ollama-URL.
const poolSize = 16

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP console API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address, e.g. :8080 (defaults MODELCONSOLE_ADDR or :8080)")
	f.String("access-log", "", "request log level: off|error|info|debug")
	f.Int("pull-timeout", 0, "bound blocking pulls to this many seconds (0=unbounded)")
	f.Float64("rate-limit", 0, "per-client requests per second (0=unlimited)")
	_ = a.v.BindPFlag("addr", f.Lookup("addr"))
	_ = a.v.BindPFlag("access_log", f.Lookup("access-log"))
	_ = a.v.BindPFlag("pull_timeout_seconds", f.Lookup("pull-timeout"))
	_ = a.v.BindPFlag("rate_limit_rps", f.Lookup("rate-limit"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	ledger, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	pool := daemon.NewPool(a.daemonConfig(), poolSize, daemon.WithLogger(a.log), daemon.WithUsageRecorder(ledger))

	httpapi.SetLogger(a.log)
	httpapi.SetAccessLogLevel(cfg.AccessLog)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetPullTimeout(cfg.PullTimeout())
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins,
		[]string{http.MethodGet, http.MethodPost, http.MethodOptions},
		[]string{"Accept", "Content-Type", httpapi.DaemonURLHeader, "X-Log-Level"})
	httpapi.SetRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Cancelled on shutdown so in-flight pulls stop with the server.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(httpapi.PoolResolver(pool)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", cfg.Addr).Str("daemon", pool.Default().BaseURL()).Str("ledger", cfg.LedgerPath).Msg("modelconsole listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	if !pool.Default().CheckServer(ctx) {
		a.log.Warn().Str("daemon", pool.Default().BaseURL()).Msg("daemon not reachable yet; model operations will fail until it starts")
	}

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-stop:
	case <-ctx.Done():
	}
	a.log.Info().Msg("shutting down")
	cancelBase()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		a.log.Error().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
