package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ventmapper/pkg/backend"
	"ventmapper/pkg/config"
	"ventmapper/pkg/inference"
	"ventmapper/pkg/logging"
	"ventmapper/pkg/metrics"
	"ventmapper/pkg/modelstore"
	"ventmapper/pkg/segmentation"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// app carries what every subcommand needs once the root has initialised.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	quiet      bool
	modelsDir  string
	backend    string

	cfg      *config.Config
	logger   *zap.Logger
	closeLog func() error
	metrics  *metrics.Metrics
	stderr   io.Writer
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ventmapper",
		Short: "Ventricle segmentation of brain MRI",
		Long: "ventmapper segments the lateral ventricles from a T1-weighted brain MRI, " +
			"optionally together with FLAIR and T2, using a pre-trained network.",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "ventmapper.yaml", "configuration file")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides output.logLevel")
	pf.StringVar(&a.logFormat, "log-format", "console", "console log format (console or json)")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "silence console logging")
	pf.StringVar(&a.modelsDir, "models", "", "directory holding the model artifacts; overrides model.dir")
	pf.StringVar(&a.backend, "backend", "", "geometric backend (inprocess or c3d); overrides backend.kind")

	cmd.AddCommand(
		newSegCommand(a),
		newBatchCommand(a),
		newStatsCommand(a),
		newTrimLikeCommand(a),
		newConfigCommand(a),
	)
	return cmd
}

// init loads the configuration and builds the logger and metrics.
func (a *app) init(cmd *cobra.Command) error {
	a.stderr = cmd.ErrOrStderr()
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Output.LogLevel = a.logLevel
	}
	if a.modelsDir != "" {
		cfg.Model.Dir = a.modelsDir
	}
	if a.backend != "" {
		cfg.Backend.Kind = a.backend
	}
	a.cfg = cfg

	logger, closeFn, err := logging.New(logging.Options{
		Level:   cfg.Output.LogLevel,
		Format:  a.logFormat,
		Console: a.stderr,
		Quiet:   a.quiet,
	})
	if err != nil {
		return err
	}
	a.logger, a.closeLog = logger, closeFn
	a.metrics = metrics.New()
	return nil
}

// finish exports metrics and flushes the logger. It runs whether or not the
// command succeeded.
func (a *app) finish() {
	if a.cfg != nil && a.cfg.Output.MetricsFile != "" {
		if err := a.metrics.WriteFile(a.cfg.Output.MetricsFile); err != nil {
			a.logger.Warn("could not write metrics", zap.Error(err))
		}
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

// newBackend returns a fresh geometric backend for one subject.
func (a *app) newBackend() (backend.Backend, error) {
	switch a.cfg.Backend.Kind {
	case "", "inprocess":
		return backend.NewInProcess(), nil
	case "c3d":
		timeout, err := a.cfg.BackendTimeout()
		if err != nil {
			return nil, err
		}
		runner := &backend.Runner{Timeout: timeout, Logger: a.logger.Named("c3d")}
		return backend.NewC3D(a.cfg.Backend.C3DPath, "", runner), nil
	}
	return nil, fmt.Errorf("unknown backend %q", a.cfg.Backend.Kind)
}

// newModelStore resolves model artifacts, with the object store behind it
// when model.remote is enabled.
func (a *app) newModelStore() (*modelstore.Store, error) {
	store := modelstore.New(a.cfg.ModelsDir(), a.logger.Named("models"))
	r := a.cfg.Model.Remote
	if !r.Enabled {
		return store, nil
	}
	client, err := modelstore.NewMinIO(modelstore.RemoteConfig{
		Endpoint:        r.Endpoint,
		AccessKeyID:     r.AccessKeyID,
		SecretAccessKey: r.SecretAccessKey,
		UseSSL:          r.UseSSL,
		Region:          r.Region,
		Bucket:          r.Bucket,
		Prefix:          r.Prefix,
	})
	if err != nil {
		return nil, err
	}
	return store.WithRemote(client, r.Bucket, r.Prefix), nil
}

// factory builds segmenters that share the model store and predictor but
// own their backend.
func (a *app) factory(force bool) (segmentation.Factory, error) {
	params, err := segmentation.ParamsFromConfig(a.cfg)
	if err != nil {
		return nil, err
	}
	params.Force = params.Force || force

	timeout, err := a.cfg.ModelTimeout()
	if err != nil {
		return nil, err
	}
	predictor := inference.NewCommandPredictor(a.cfg.Model.Command, a.cfg.Model.Args,
		inference.WithQuiet(a.cfg.Model.Quiet),
		inference.WithTimeout(timeout),
		inference.WithLogger(a.logger.Named("predict")))

	store, err := a.newModelStore()
	if err != nil {
		return nil, err
	}

	return func() (*segmentation.Segmenter, error) {
		b, err := a.newBackend()
		if err != nil {
			return nil, err
		}
		return segmentation.NewSegmenter(params, b, predictor, store,
			segmentation.WithLogger(a.logger),
			segmentation.WithMetrics(a.metrics))
	}, nil
}
