package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bank-intel/internal/batch"
	"bank-intel/internal/cfg"
	"bank-intel/internal/client"
	"bank-intel/internal/common"
	"bank-intel/internal/metrics"
	"bank-intel/internal/ml"
	"bank-intel/internal/model"
	"bank-intel/internal/server"
	"bank-intel/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "bankintel",
		Usage:   "Loan approval, loan amount and fraud decisions from trained models",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML config file",
				EnvVars: []string{common.EnvConfigFile},
			},
			&cli.StringFlag{
				Name:  "model-dir",
				Usage: "directory holding the six model artifacts",
			},
			&cli.StringFlag{
				Name:  "data-path",
				Usage: "directory for the decision audit log (disabled when empty)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "base URL of a running decision server; commands run remotely when set",
				EnvVars: []string{"BANKINTEL_SERVER"},
			},
		},
		Before: func(c *cli.Context) error {
			setupLogging(c.String("log-level"))
			return nil
		},
		Commands: []*cli.Command{
			serveCommand(),
			batchCommand(),
			decideCommand(ml.DomainLoanApproval, "approve", "Decide a single loan application"),
			decideCommand(ml.DomainLoanAmount, "amount", "Predict the eligible loan amount for a single applicant"),
			decideCommand(ml.DomainFraud, "fraud", "Flag a single transaction"),
			historyCommand(),
			encodingsCommand(),
		},
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// runtime holds everything a local command needs.
type runtime struct {
	settings  cfg.Settings
	store     *model.Store
	predictor *ml.Predictor
	runner    *batch.Runner
	audit     *storage.Store
	metrics   *metrics.MetricsWrapper
	registry  *prometheus.Registry
}

// loadSettings applies command line overrides on top of cfg.Load.
func loadSettings(c *cli.Context) (cfg.Settings, error) {
	if path := c.String("config"); path != "" {
		os.Setenv(common.EnvConfigFile, path)
	}
	settings, err := cfg.Load()
	if err != nil {
		return cfg.Settings{}, fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("model-dir") {
		settings.ModelDir = c.String("model-dir")
	}
	if c.IsSet("data-path") {
		settings.DataPath = c.String("data-path")
	}
	if !c.IsSet("log-level") {
		setupLogging(settings.LogLevel)
	}
	return settings, nil
}

func loadRuntime(c *cli.Context) (*runtime, error) {
	settings, err := loadSettings(c)
	if err != nil {
		return nil, err
	}

	store, err := model.LoadStore(settings.ModelDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWrapper(metrics.NewWithRegistry(registry))
	m.SetArtifactAges(store.Ages(time.Now()))

	rt := &runtime{settings: settings, store: store, metrics: m, registry: registry}
	rt.audit = initializeStorage(settings)

	var recorder ml.Recorder
	var runRecorder batch.RunRecorder
	if rt.audit != nil {
		recorder = rt.audit
		runRecorder = rt.audit
	}

	rt.predictor, err = ml.New(store, ml.Config{
		Policy:            settings.Policy,
		SuspiciousCluster: settings.SuspiciousCluster,
		CacheSize:         settings.CacheSize,
		Drift: ml.DriftConfig{
			WindowSize:         settings.DriftWindow,
			MeanShiftThreshold: settings.DriftMeanShift,
			RangeExitThreshold: settings.DriftRangeExit,
			Cooldown:           common.DefaultDriftCooldown,
		},
	}, m, recorder)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create predictor: %w", err)
	}

	rt.runner = batch.NewRunner(rt.predictor, batch.Options{
		Workers:         settings.BatchWorkers,
		ContinueOnError: settings.ContinueOnError,
	}, m, runRecorder)

	log.Info().
		Str("model_dir", settings.ModelDir).
		Int("artifacts", len(store.Info())).
		Bool("audit", rt.audit != nil).
		Msg("models loaded")
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.audit != nil {
		if err := rt.audit.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close audit store")
		}
	}
}

// initializeStorage opens the audit log. Failure leaves it disabled.
func initializeStorage(settings cfg.Settings) *storage.Store {
	if settings.DataPath == "" {
		return nil
	}
	if err := os.MkdirAll(settings.DataPath, 0o755); err != nil {
		log.Warn().Err(err).Str("path", settings.DataPath).Msg("failed to create data directory, audit log disabled")
		return nil
	}
	store, err := storage.New(settings.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize storage, audit log disabled")
		return nil
	}
	return store
}

// remote returns a client when --server is set.
func remote(c *cli.Context) *client.Client {
	base := c.String("server")
	if base == "" {
		return nil
	}
	return client.New(base, common.DefaultRequestTimeout)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP decision server",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "listen port (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			rt, err := loadRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			port := rt.settings.ListenPort
			if c.IsSet("port") {
				port = c.Int("port")
			}

			var audit server.AuditLog
			if rt.audit != nil {
				audit = rt.audit
			}
			srv := server.New(rt.predictor, rt.store, rt.runner, audit, rt.metrics, server.Options{
				Port:           port,
				RequestTimeout: rt.settings.RequestTimeout,
				MaxUploadBytes: rt.settings.MaxUploadBytes,
				Gatherer:       rt.registry,
				Drift:          rt.predictor.Drift(),
			})

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil {
					errCh <- err
				}
			}()
			go refreshArtifactAges(ctx, rt)

			return waitForShutdown(srv, errCh)
		},
	}
}

func refreshArtifactAges(ctx context.Context, rt *runtime) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rt.metrics.SetArtifactAges(rt.store.Ages(now))
		}
	}
}

func waitForShutdown(srv *server.Server, errCh <-chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), common.DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
