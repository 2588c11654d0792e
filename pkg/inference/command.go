package inference

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"ventmapper/pkg/backend"
	"ventmapper/pkg/nifti"
	"ventmapper/pkg/volume"
)

// CommandPredictor runs the network through an external command:
//
//	<command> [args...] --model-json J --model-weights W --input C0 [--input C1 ...] --output OUT
//
// Each input channel is written as a NIfTI volume; the command writes the
// probability map to OUT.
type CommandPredictor struct {
	Command string
	Args    []string
	Scratch string
	Timeout time.Duration

	// Quiet suppresses the framework's informational logging in the child
	// process only.
	Quiet bool

	Logger *zap.Logger
}

// Option configures a CommandPredictor.
type Option func(*CommandPredictor)

// WithQuiet sets TF_CPP_MIN_LOG_LEVEL=3 in the child environment.
func WithQuiet(quiet bool) Option {
	return func(p *CommandPredictor) { p.Quiet = quiet }
}

// WithTimeout bounds a single prediction.
func WithTimeout(d time.Duration) Option {
	return func(p *CommandPredictor) { p.Timeout = d }
}

// WithScratch sets the directory under which per-call scratch dirs are created.
func WithScratch(dir string) Option {
	return func(p *CommandPredictor) { p.Scratch = dir }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *CommandPredictor) { p.Logger = l }
}

// NewCommandPredictor returns a predictor invoking command with extra leading args.
func NewCommandPredictor(command string, args []string, opts ...Option) *CommandPredictor {
	p := &CommandPredictor{Command: command, Args: args, Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *CommandPredictor) env() []string {
	if p.Quiet {
		return []string{"TF_CPP_MIN_LOG_LEVEL=3"}
	}
	return nil
}

// Predict implements Predictor.
func (p *CommandPredictor) Predict(ctx context.Context, req Request) (*volume.Volume, error) {
	if p.Command == "" {
		return nil, fmt.Errorf("%w: no inference command configured", ErrInference)
	}
	dir, err := os.MkdirTemp(p.Scratch, "infer-")
	if err != nil {
		return nil, fmt.Errorf("%w: create scratch dir: %w", ErrInference, err)
	}
	defer os.RemoveAll(dir)

	args := append([]string{}, p.Args...)
	args = append(args, "--model-json", req.Artifacts.Architecture, "--model-weights", req.Artifacts.Weights)
	for c := 0; c < req.Tensor.Channels(); c++ {
		ch, err := req.Tensor.Channel(c, req.Affine)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInference, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("channel%d.nii.gz", c))
		if err := nifti.Write(path, ch); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInference, err)
		}
		args = append(args, "--input", path)
	}
	out := filepath.Join(dir, "prob.nii.gz")
	args = append(args, "--output", out)

	runner := &backend.Runner{Timeout: p.Timeout, Env: p.env(), Logger: p.Logger}
	res, err := runner.Run(ctx, p.Command, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	p.Logger.Info("network prediction finished",
		zap.Int("channels", req.Tensor.Channels()),
		zap.Duration("elapsed", res.Elapsed))

	prob, err := nifti.Read(out)
	if err != nil {
		return nil, fmt.Errorf("%w: read prediction: %w", ErrInference, err)
	}
	return prob, nil
}
