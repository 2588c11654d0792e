// Package segmentation runs the ventricle segmentation pipeline for one
// subject and for batches of independent subjects.
//
// The stages of a subject run strictly in order:
//
//	validate-inputs → select-variant → normalize-orientation → standardize →
//	align → resample → stack → infer → resample-to-native → extract →
//	restore-orientation → persist
//
// Every per-modality intermediate is kept in the subject's work directory and
// reused on the next run unless Force is set.
package segmentation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ventmapper/internal/models"
	"ventmapper/pkg/backend"
	"ventmapper/pkg/cache"
	"ventmapper/pkg/config"
	"ventmapper/pkg/inference"
	"ventmapper/pkg/interpolation"
	"ventmapper/pkg/logging"
	"ventmapper/pkg/metrics"
	"ventmapper/pkg/modelstore"
	"ventmapper/pkg/nifti"
	"ventmapper/pkg/orientation"
	"ventmapper/pkg/postprocess"
	"ventmapper/pkg/visualization"
	"ventmapper/pkg/volume"
)

var (
	// ErrPrecondition marks missing inputs or model artifacts. Nothing has
	// been written when it is returned.
	ErrPrecondition = errors.New("precondition failed")

	// ErrExternalTool marks a failed geometric backend invocation.
	ErrExternalTool = backend.ErrExternalTool

	// ErrInference marks a failed network prediction.
	ErrInference = inference.ErrInference
)

// maskModality names the brain mask in cache keys.
const maskModality = "mask"

// Params holds the pipeline settings.
type Params struct {
	// GridSize is the edge length of the network's input grid.
	GridSize int

	// OrientationCheck enables reorientation into Canonical codes.
	OrientationCheck bool
	Canonical        []string

	// Radius is the local standardization window half-width.
	Radius [3]int

	// TrimMargin is kept around the cropped T1 content.
	TrimMargin int

	// Interpolation is used when resampling intensities to the network grid.
	Interpolation interpolation.Method

	// Extract configures thresholding and component selection.
	Extract postprocess.Options

	// Force recomputes every stage and overwrites the output.
	Force bool

	// QCImage writes a mosaic next to the output.
	QCImage bool

	// LogToFile mirrors the subject's log entries into its logs directory.
	LogToFile bool
	LogLevel  string
}

// DefaultParams returns the standard pipeline settings.
func DefaultParams() Params {
	return Params{
		GridSize:         128,
		OrientationCheck: true,
		Canonical:        orientation.DefaultCanonical,
		Radius:           [3]int{25, 25, 25},
		TrimMargin:       1,
		Interpolation:    interpolation.Linear,
		Extract:          postprocess.DefaultOptions(),
	}
}

// ParamsFromConfig maps the configuration file onto Params.
func ParamsFromConfig(cfg *config.Config) (Params, error) {
	interp, err := interpolation.ParseMethod(cfg.Processing.ResampleInterpolation)
	if err != nil {
		return Params{}, err
	}
	return Params{
		GridSize:         cfg.Processing.GridSize,
		OrientationCheck: cfg.Processing.OrientationCheck,
		Canonical:        cfg.Processing.CanonicalOrientations,
		Radius:           cfg.Radius(),
		TrimMargin:       cfg.Processing.TrimMargin,
		Interpolation:    interp,
		Extract: postprocess.Options{
			Threshold:      cfg.Processing.Threshold,
			SmoothFWHM:     cfg.Processing.SmoothFWHM,
			SeedIterations: cfg.Processing.SeedIterations,
			Connectivity:   cfg.Processing.Connectivity,
		},
		Force:     cfg.Output.Force,
		QCImage:   cfg.Output.QCImage,
		LogToFile: true,
		LogLevel:  cfg.Output.LogLevel,
	}, nil
}

// Result describes a finished subject.
type Result struct {
	Subject string
	RunID   string
	Variant models.Variant

	// Output is the final segmentation path.
	Output string

	// Skipped is set when the output already existed and Force was off.
	Skipped bool

	// Reoriented is set when any input had to be reoriented.
	Reoriented bool

	// StdOrientOutput is the segmentation before orientation restoration.
	StdOrientOutput string

	// ProbabilityMap is the native-space network output.
	ProbabilityMap string

	// QCImage is the mosaic path when one was written.
	QCImage string

	Voxels  int
	Writes  int64
	Elapsed time.Duration
}

// Segmenter processes subjects. A Segmenter owns its backend instance and
// must not be shared by concurrent subjects.
type Segmenter struct {
	params     Params
	backend    backend.Backend
	predictor  inference.Predictor
	models     *modelstore.Store
	normalizer *orientation.Normalizer
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Segmenter) { s.logger = l }
}

// WithMetrics records stage timings and cache lookups.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Segmenter) { s.metrics = m }
}

// NewSegmenter wires a pipeline.
func NewSegmenter(p Params, b backend.Backend, pred inference.Predictor, store *modelstore.Store, opts ...Option) (*Segmenter, error) {
	if b == nil || pred == nil || store == nil {
		return nil, fmt.Errorf("segmenter needs a backend, a predictor and a model store")
	}
	if p.GridSize <= 0 {
		return nil, fmt.Errorf("invalid grid size %d", p.GridSize)
	}
	if err := p.Extract.Validate(); err != nil {
		return nil, err
	}
	norm, err := orientation.NewNormalizer(p.Canonical)
	if err != nil {
		return nil, err
	}
	norm.Enabled = p.OrientationCheck

	s := &Segmenter{
		params:     p,
		backend:    b,
		predictor:  pred,
		models:     store,
		normalizer: norm,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// run is the state of one subject.
type run struct {
	subj    *models.Subject
	variant models.Variant
	store   *cache.Store
	logger  *zap.Logger

	mask      *volume.Volume
	maskState orientation.State

	images map[models.Modality]*volume.Volume
	states map[models.Modality]orientation.State
	std    map[models.Modality]*volume.Volume
	crops  map[models.Modality]*volume.Volume
	grids  map[models.Modality]*volume.Volume

	tensor *inference.Tensor
	prob   *volume.Volume
	seg    *volume.Volume
}

func (r *run) key(m string, stage cache.Stage) cache.Key {
	return cache.Key{Subject: r.subj.ID, Modality: m, Stage: stage}
}

// stage runs fn and records its duration.
func (s *Segmenter) stage(r *run, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.ObserveStage(name, start)
	if err != nil {
		r.logger.Error("stage failed", zap.String("stage", name), zap.Error(err))
		return err
	}
	r.logger.Info("stage finished", zap.String("stage", name), zap.Duration("elapsed", time.Since(start)))
	return nil
}

// outputStem strips the NIfTI extension from path.
func outputStem(path string) string {
	for _, ext := range []string{".nii.gz", ".nii"} {
		if strings.HasSuffix(path, ext) {
			return strings.TrimSuffix(path, ext)
		}
	}
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// Process segments one subject.
func (s *Segmenter) Process(ctx context.Context, subj *models.Subject) (*Result, error) {
	start := time.Now()
	logger, runID := logging.ForRun(s.logger, subj.ID)
	res := &Result{Subject: subj.ID, RunID: runID, Output: subj.Output}

	// validate-inputs: nothing is written before this passes
	if err := subj.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrecondition, err)
	}
	if subj.Output == "" {
		return nil, fmt.Errorf("%w: no output path for subject %s", ErrPrecondition, subj.ID)
	}
	if _, err := os.Stat(subj.Output); err == nil && !s.params.Force {
		logger.Info("segmentation already exists, skipping", zap.String("output", subj.Output))
		res.Skipped = true
		res.Elapsed = time.Since(start)
		return res, nil
	}

	// select-variant
	res.Variant = models.SelectVariant(subj.Available())
	if subj.Has(models.T2) && !subj.Has(models.FLAIR) {
		logger.Warn("T2 without FLAIR is not supported by any network; ignoring T2")
	}
	artifacts, err := s.models.Resolve(ctx, res.Variant)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrecondition, err)
	}

	if s.params.LogToFile {
		fileLogger, closeFn, err := logging.New(logging.Options{Quiet: true, File: subj.LogFile(), Level: s.params.LogLevel})
		if err != nil {
			return nil, err
		}
		defer closeFn()
		logger = zap.New(zapcore.NewTee(logger.Core(), fileLogger.Core().With([]zapcore.Field{
			zap.String("run_id", runID), zap.String("subject", subj.ID),
		})))
	}
	logger.Info("segmenting subject",
		zap.String("variant", string(res.Variant)),
		zap.String("backend", s.backend.Name()),
		zap.Bool("force", s.params.Force))

	store := cache.New(subj.WorkDir(), s.params.Force)
	store.Observe(func(stage cache.Stage, hit bool) { s.metrics.CacheLookup(string(stage), hit) })

	r := &run{
		subj:    subj,
		variant: res.Variant,
		store:   store,
		logger:  logger,
		images:  map[models.Modality]*volume.Volume{},
		states:  map[models.Modality]orientation.State{},
		std:     map[models.Modality]*volume.Volume{},
		crops:   map[models.Modality]*volume.Volume{},
		grids:   map[models.Modality]*volume.Volume{},
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"normalize-orientation", func() error { return s.normalize(r) }},
		{"standardize", func() error { return s.standardize(ctx, r) }},
		{"align", func() error { return s.align(ctx, r) }},
		{"resample", func() error { return s.resample(r) }},
		{"stack", func() error { return s.stack(r) }},
		{"infer", func() error { return s.infer(ctx, r, artifacts) }},
		{"resample-to-native", func() error { return s.toNative(r, res) }},
		{"extract", func() error { return s.extract(r) }},
		{"restore-orientation", func() error { return s.restore(r, res) }},
		{"persist", func() error { return s.persist(r, res) }},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.stage(r, step.name, step.fn); err != nil {
			return nil, fmt.Errorf("%s: %w", step.name, err)
		}
	}

	res.Writes = store.Writes()
	res.Elapsed = time.Since(start)
	logger.Info("segmentation finished",
		zap.String("output", res.Output),
		zap.Int("voxels", res.Voxels),
		zap.Int64("writes", res.Writes),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// load reads an input image for continuous processing.
func load(path string) (*volume.Volume, error) {
	v, err := nifti.Read(path)
	if err != nil {
		return nil, err
	}
	v.Meta.Datatype = nifti.DTFloat32
	return v, nil
}

// normalizeOne reorients v if needed, caching the reoriented volume.
func (s *Segmenter) normalizeOne(r *run, modality string, v *volume.Volume) (*volume.Volume, orientation.State, error) {
	state, err := s.normalizer.Plan(v.Affine)
	if err != nil {
		return nil, orientation.State{}, err
	}
	if !state.Changed {
		return v, state, nil
	}
	r.logger.Info("reorienting input",
		zap.String("modality", modality),
		zap.String("from", state.Description),
		zap.String("to", state.Code))
	out, err := r.store.GetOrCompute(r.key(modality, cache.StageOrient), func() (*volume.Volume, error) {
		return orientation.Apply(v, state.Transform)
	})
	return out, state, err
}

func (s *Segmenter) normalize(r *run) error {
	mask, err := nifti.Read(r.subj.Mask)
	if err != nil {
		return err
	}
	if r.mask, r.maskState, err = s.normalizeOne(r, maskModality, mask); err != nil {
		return err
	}
	for _, m := range r.variant.Modalities() {
		img, err := load(r.subj.Paths[m])
		if err != nil {
			return err
		}
		out, state, err := s.normalizeOne(r, string(m), img)
		if err != nil {
			return err
		}
		r.images[m], r.states[m] = out, state
	}
	return nil
}

// reoriented reports whether any input changed orientation.
func (r *run) reoriented() bool {
	if r.maskState.Changed {
		return true
	}
	for _, st := range r.states {
		if st.Changed {
			return true
		}
	}
	return false
}

func (s *Segmenter) standardize(ctx context.Context, r *run) error {
	for _, m := range r.variant.Modalities() {
		img := r.images[m]
		mask := r.mask
		if !img.SameGrid(mask) {
			// secondary modalities are standardized within the mask resliced onto their own grid
			var err error
			mask, err = s.backend.TrimLike(ctx, r.mask, img, interpolation.Nearest)
			if err != nil {
				return fmt.Errorf("reslice mask onto %s: %w", m, err)
			}
		}
		masked, err := r.store.GetOrCompute(r.key(string(m), cache.StageMasked), func() (*volume.Volume, error) {
			return s.backend.Mask(ctx, img, mask)
		})
		if err != nil {
			return fmt.Errorf("mask %s: %w", m, err)
		}
		std, err := r.store.GetOrCompute(r.key(string(m), cache.StageStandardized), func() (*volume.Volume, error) {
			return s.backend.Standardize(ctx, masked, mask, s.params.Radius)
		})
		if err != nil {
			return fmt.Errorf("standardize %s: %w", m, err)
		}
		r.std[m] = std
	}
	return nil
}

func (s *Segmenter) align(ctx context.Context, r *run) error {
	ref, err := r.store.GetOrCompute(r.key(string(models.T1), cache.StageCropped), func() (*volume.Volume, error) {
		return s.backend.Trim(ctx, r.std[models.T1], s.params.TrimMargin)
	})
	if err != nil {
		return fmt.Errorf("trim t1: %w", err)
	}
	r.crops[models.T1] = ref

	for _, m := range r.variant.Modalities()[1:] {
		crop, err := r.store.GetOrCompute(r.key(string(m), cache.StageCropped), func() (*volume.Volume, error) {
			return s.backend.TrimLike(ctx, r.std[m], ref, interpolation.Linear)
		})
		if err != nil {
			return fmt.Errorf("trim %s like t1: %w", m, err)
		}
		if crop.Dims != ref.Dims || !crop.Affine.Equal(ref.Affine, volume.GridTolerance) {
			return fmt.Errorf("%s crop grid %v does not match t1 crop grid %v", m, crop.Dims, ref.Dims)
		}
		r.crops[m] = crop
	}
	return nil
}

func (s *Segmenter) resample(r *run) error {
	for _, m := range r.variant.Modalities() {
		grid, err := r.store.GetOrCompute(r.key(string(m), cache.StageResampled), func() (*volume.Volume, error) {
			return interpolation.ToGrid(r.crops[m], s.params.GridSize, s.params.Interpolation)
		})
		if err != nil {
			return fmt.Errorf("resample %s: %w", m, err)
		}
		r.grids[m] = grid
	}
	return nil
}

func (s *Segmenter) stack(r *run) error {
	mods := r.variant.Modalities()
	t, err := inference.NewTensor(len(mods), s.params.GridSize)
	if err != nil {
		return err
	}
	for c, m := range mods {
		if err := t.SetChannel(c, r.grids[m]); err != nil {
			return err
		}
	}
	r.tensor = t
	return nil
}

func (s *Segmenter) infer(ctx context.Context, r *run, artifacts inference.Artifacts) error {
	prob, err := inference.Run(ctx, s.predictor, inference.Request{
		Tensor:    r.tensor,
		Artifacts: artifacts,
		Affine:    r.grids[models.T1].Affine,
	})
	if err != nil {
		return err
	}
	r.prob = prob
	return nil
}

func (s *Segmenter) toNative(r *run, res *Result) error {
	native, err := interpolation.ToReference(r.prob, r.images[models.T1], interpolation.Linear)
	if err != nil {
		return err
	}
	native.Meta.Datatype = nifti.DTFloat32
	res.ProbabilityMap = filepath.Join(r.subj.WorkDir(), fmt.Sprintf("%s_%s_pred_prob.nii.gz", r.subj.ID, r.variant))
	if err := r.store.Write(res.ProbabilityMap, native); err != nil {
		return err
	}
	r.prob = native
	return nil
}

func (s *Segmenter) extract(r *run) error {
	mask := r.mask
	if !mask.SameGrid(r.prob) {
		var err error
		if mask, err = interpolation.ToReference(r.mask, r.prob, interpolation.Nearest); err != nil {
			return err
		}
	}
	seg, err := postprocess.Extract(r.prob, mask, s.params.Extract)
	if err != nil {
		return err
	}
	r.seg = seg
	return nil
}

func (s *Segmenter) restore(r *run, res *Result) error {
	if !r.reoriented() {
		return nil
	}
	res.Reoriented = true
	res.StdOrientOutput = outputStem(r.subj.Output) + "_std_orient.nii.gz"
	if err := r.store.Write(res.StdOrientOutput, r.seg); err != nil {
		return err
	}
	restored, err := s.normalizer.Restore(r.seg, r.states[models.T1])
	if err != nil {
		return err
	}
	r.seg = restored
	return nil
}

// persist writes the QC mosaic, then the segmentation. An existing output
// implies its QC image exists.
func (s *Segmenter) persist(r *run, res *Result) error {
	if s.params.QCImage {
		anatomy, err := nifti.Read(r.subj.Paths[models.T1])
		if err != nil {
			return err
		}
		qc := outputStem(r.subj.Output) + "_qc.png"
		if err := visualization.WriteMosaic(anatomy, r.seg, qc); err != nil {
			return err
		}
		res.QCImage = qc
	}

	if err := r.store.Write(r.subj.Output, r.seg); err != nil {
		return err
	}
	res.Voxels = r.seg.CountNonZero()
	return nil
}
