package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"modelconsole/internal/common/fsutil"
	"modelconsole/internal/config"
	"modelconsole/internal/daemon"
	"modelconsole/internal/telemetry"
	"modelconsole/internal/usage"
)

// configCandidates are tried in order when --config is not given.
var configCandidates = []string{
	"modelconsole.yaml", "modelconsole.yml", "modelconsole.toml", "modelconsole.json",
	"~/.modelconsole/config.yaml",
}

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	log     zerolog.Logger
	out     io.Writer
	errOut  io.Writer
	asJSON  bool
	dump    bool
	ledger  *usage.Ledger
	cleanup []func(context.Context) error
}

func newApp(out, errOut io.Writer) *app {
	return &app{v: config.NewViper(), out: out, errOut: errOut, log: zerolog.Nop()}
}

// rootCmd builds the command tree. Flags bind to the viper keys in
// internal/config so flag > env > file > default.
func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "modelconsole",
		Short:         "Manage the models of a local Ollama daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (.yaml, .toml or .json)")
	pf.String("daemon-url", "", "daemon base URL (defaults MODELCONSOLE_DAEMON_URL, OLLAMA_HOST or "+config.DefaultDaemonURL+")")
	pf.String("api-key", "", "bearer credential sent to the daemon")
	pf.String("ledger", "", "usage ledger SQLite path")
	pf.String("log-level", "", "log level: debug|info|warn|error")
	pf.String("log-format", "", "log format: console|json")
	pf.String("log-file", "", "also write JSON logs to this rotated file")
	pf.String("trace-file", "", "export request spans to this rotated file")
	pf.BoolVar(&a.asJSON, "json", false, "print results as JSON")
	pf.BoolVar(&a.dump, "dump", false, "pretty-print raw result structures")
	for key, flag := range map[string]string{
		"daemon_url":  "daemon-url",
		"api_key":     "api-key",
		"ledger_path": "ledger",
		"log_level":   "log-level",
		"log_format":  "log-format",
		"log_file":    "log-file",
		"trace_file":  "trace-file",
	} {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(a.serveCmd(), a.statusCmd(), a.modelsCmd(), a.statsCmd())
	return root
}

// setup resolves configuration and starts logging and tracing.
func (a *app) setup(ctx context.Context) error {
	path := a.cfgFile
	if path == "" {
		path = fsutil.FirstExisting(configCandidates...)
	}
	cfg, err := config.Resolve(a.v, path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, closer, err := telemetry.NewLogger(telemetry.LogOptions{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Out:    a.errOut,
	})
	if err != nil {
		return err
	}
	a.log = logger
	a.onShutdown(func(context.Context) error { return closer.Close() })
	if path != "" {
		a.log.Debug().Str("config", path).Msg("configuration loaded")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := telemetry.InitTracing(ctx, cfg.TraceFile, version)
	if err != nil {
		return err
	}
	a.onShutdown(shutdown)
	return nil
}

func (a *app) onShutdown(fn func(context.Context) error) { a.cleanup = append(a.cleanup, fn) }

// shutdown releases resources in reverse order of acquisition.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](ctx); err != nil {
			a.log.Warn().Err(err).Msg("shutdown")
		}
	}
	a.cleanup = nil
}

func (a *app) daemonConfig() daemon.Config {
	return daemon.Config{
		BaseURL:        a.cfg.DaemonURL,
		APIKey:         a.cfg.APIKey,
		RequestTimeout: a.cfg.RequestTimeout(),
		HealthInterval: a.cfg.HealthInterval(),
		Retry:          daemon.RetryPolicy{MaxAttempts: a.cfg.RetryAttempts},
	}
}

// openLedger opens the usage ledger once per process.
func (a *app) openLedger(ctx context.Context) (*usage.Ledger, error) {
	if a.ledger != nil {
		return a.ledger, nil
	}
	if err := fsutil.EnsureParentDir(a.cfg.LedgerPath); err != nil {
		return nil, err
	}
	l, err := usage.Open(ctx, a.cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}
	a.ledger = l
	a.onShutdown(func(context.Context) error { return l.Close() })
	return l, nil
}

// client returns a daemon client that records usage in the ledger.
func (a *app) client(ctx context.Context) (*daemon.Client, error) {
	l, err := a.openLedger(ctx)
	if err != nil {
		return nil, err
	}
	return daemon.New(a.daemonConfig(), daemon.WithLogger(a.log), daemon.WithUsageRecorder(l)), nil
}
