package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"ventmapper/pkg/interpolation"
	"ventmapper/pkg/nifti"
	"ventmapper/pkg/volume"
)

// ErrExternalTool is returned when an external tool exits unsuccessfully.
var ErrExternalTool = errors.New("external tool failed")

// Result is the outcome of one external invocation.
type Result struct {
	Command string
	Args    []string
	Output  string
	Elapsed time.Duration
}

// Runner executes external commands with a timeout.
type Runner struct {
	Timeout time.Duration
	Env     []string
	Logger  *zap.Logger
}

// Run executes command synchronously. A non-zero exit is reported as
// ErrExternalTool carrying the combined output of the tool.
func (r *Runner) Run(ctx context.Context, command string, args ...string) (Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	output, err := cmd.CombinedOutput()
	res := Result{
		Command: command,
		Args:    args,
		Output:  strings.TrimSpace(string(output)),
		Elapsed: time.Since(start),
	}
	logger.Debug("external command finished",
		zap.String("command", command),
		zap.Strings("args", args),
		zap.Duration("elapsed", res.Elapsed),
		zap.Error(err))

	if ctx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("%w: %s timed out after %s", ErrExternalTool, command, r.Timeout)
	}
	if err != nil {
		return res, fmt.Errorf("%w: %s %s: %v: %s", ErrExternalTool, command, strings.Join(args, " "), err, res.Output)
	}
	return res, nil
}

// C3D implements Backend by invoking the c3d tool on NIfTI files written to a
// scratch directory.
type C3D struct {
	Binary  string
	Scratch string
	Runner  *Runner
}

// NewC3D returns a c3d backend. An empty binary means "c3d" on PATH and an
// empty scratch directory means the system temp directory.
func NewC3D(binary, scratch string, runner *Runner) *C3D {
	if binary == "" {
		binary = "c3d"
	}
	if runner == nil {
		runner = &Runner{}
	}
	return &C3D{Binary: binary, Scratch: scratch, Runner: runner}
}

func (*C3D) Name() string { return "c3d" }

// run writes inputs into a fresh scratch directory, substitutes their paths
// for the {0}, {1}... placeholders in args, appends "-o <out>" and reads the
// result back.
func (c *C3D) run(ctx context.Context, inputs []*volume.Volume, args ...string) (*volume.Volume, error) {
	dir, err := os.MkdirTemp(c.Scratch, "c3d-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	paths := make([]string, len(inputs))
	for i, v := range inputs {
		paths[i] = filepath.Join(dir, fmt.Sprintf("in%d.nii.gz", i))
		if err := nifti.Write(paths[i], v); err != nil {
			return nil, err
		}
	}

	full := make([]string, 0, len(args)+2)
	for _, a := range args {
		for i, p := range paths {
			a = strings.ReplaceAll(a, fmt.Sprintf("{%d}", i), p)
		}
		full = append(full, a)
	}
	out := filepath.Join(dir, "out.nii.gz")
	full = append(full, "-o", out)

	if _, err := c.Runner.Run(ctx, c.Binary, full...); err != nil {
		return nil, err
	}
	v, err := nifti.Read(out)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s output: %v", ErrExternalTool, c.Binary, err)
	}
	return v, nil
}

func (c *C3D) Mask(ctx context.Context, img, mask *volume.Volume) (*volume.Volume, error) {
	return c.run(ctx, []*volume.Volume{img, mask}, "{0}", "{1}", "-times")
}

func (c *C3D) Standardize(ctx context.Context, img, mask *volume.Volume, radius [3]int) (*volume.Volume, error) {
	window := fmt.Sprintf("%dx%dx%d", radius[0], radius[1], radius[2])
	return c.run(ctx, []*volume.Volume{img, mask},
		"{0}", "{1}", "-times", "-nlw", window, "{1}", "-times", "-replace", "nan", "0", "inf", "0", "-inf", "0")
}

func (c *C3D) Trim(ctx context.Context, v *volume.Volume, margin int) (*volume.Volume, error) {
	return c.run(ctx, []*volume.Volume{v}, "{0}", "-trim", fmt.Sprintf("%dvox", margin))
}

func (c *C3D) TrimLike(ctx context.Context, v, ref *volume.Volume, m interpolation.Method) (*volume.Volume, error) {
	interp := "NearestNeighbor"
	if m == interpolation.Linear {
		interp = "Linear"
	}
	return c.run(ctx, []*volume.Volume{ref, v}, "{0}", "{1}", "-interpolation", interp, "-reslice-identity")
}
