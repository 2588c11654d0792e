// Package backend performs the voxel-level geometric and intensity operations
// of the pipeline, either in process or by driving the c3d command-line tool.
package backend

import (
	"context"

	"ventmapper/pkg/alignment"
	"ventmapper/pkg/intensity"
	"ventmapper/pkg/interpolation"
	"ventmapper/pkg/volume"
)

// Backend is the set of operations the orchestrator delegates.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Mask multiplies img by mask.
	Mask(ctx context.Context, img, mask *volume.Volume) (*volume.Volume, error)

	// Standardize applies masked local-window normalization.
	Standardize(ctx context.Context, img, mask *volume.Volume, radius [3]int) (*volume.Volume, error)

	// Trim crops v to its non-zero content plus margin voxels.
	Trim(ctx context.Context, v *volume.Volume, margin int) (*volume.Volume, error)

	// TrimLike reslices v onto the grid of ref.
	TrimLike(ctx context.Context, v, ref *volume.Volume, m interpolation.Method) (*volume.Volume, error)
}

// InProcess implements Backend with the Go implementations.
type InProcess struct{}

// NewInProcess returns the in-process backend.
func NewInProcess() *InProcess {
	return &InProcess{}
}

func (*InProcess) Name() string { return "inprocess" }

func (*InProcess) Mask(ctx context.Context, img, mask *volume.Volume) (*volume.Volume, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return intensity.Mask(img, mask)
}

func (*InProcess) Standardize(ctx context.Context, img, mask *volume.Volume, radius [3]int) (*volume.Volume, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return intensity.Standardize(img, mask, radius)
}

func (*InProcess) Trim(ctx context.Context, v *volume.Volume, margin int) (*volume.Volume, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return alignment.Trim(v, margin)
}

func (*InProcess) TrimLike(ctx context.Context, v, ref *volume.Volume, m interpolation.Method) (*volume.Volume, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return alignment.TrimLike(v, ref, m)
}
