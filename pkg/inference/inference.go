// Package inference adapts the pre-trained segmentation network. The network
// itself is opaque: it is invoked through a Predictor that receives the
// stacked input tensor and returns a voxel-wise probability volume.
package inference

import (
	"context"
	"errors"
	"fmt"

	"ventmapper/pkg/volume"
)

// ErrInference wraps every failure of the inference step.
var ErrInference = errors.New("inference failed")

// Tensor is a dense float32 array of shape (batch, channels, x, y, z) with z
// varying fastest, the layout the network was trained with.
type Tensor struct {
	Shape [5]int
	Data  []float32
}

// NewTensor allocates a zero tensor with one batch entry.
func NewTensor(channels, n int) (*Tensor, error) {
	if channels <= 0 || n <= 0 {
		return nil, fmt.Errorf("invalid tensor shape: %d channels, grid %d", channels, n)
	}
	return &Tensor{
		Shape: [5]int{1, channels, n, n, n},
		Data:  make([]float32, channels*n*n*n),
	}, nil
}

// Channels returns the number of input channels.
func (t *Tensor) Channels() int { return t.Shape[1] }

// GridSize returns the edge length of the cubic spatial grid.
func (t *Tensor) GridSize() int { return t.Shape[2] }

func (t *Tensor) offset(c, x, y, z int) int {
	n := t.Shape[2]
	return ((c*n+x)*n+y)*n + z
}

// SetChannel copies a volume on the n³ grid into channel c.
func (t *Tensor) SetChannel(c int, v *volume.Volume) error {
	n := t.GridSize()
	if c < 0 || c >= t.Channels() {
		return fmt.Errorf("channel %d out of range [0,%d)", c, t.Channels())
	}
	if v.Dims != [3]int{n, n, n} {
		return fmt.Errorf("channel %d has dimensions %v, want %d³", c, v.Dims, n)
	}
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				t.Data[t.offset(c, x, y, z)] = float32(v.At(x, y, z))
			}
		}
	}
	return nil
}

// Channel extracts channel c as a volume with the given affine.
func (t *Tensor) Channel(c int, affine volume.Affine) (*volume.Volume, error) {
	n := t.GridSize()
	v, err := volume.New([3]int{n, n, n}, affine)
	if err != nil {
		return nil, err
	}
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				v.Set(x, y, z, float64(t.Data[t.offset(c, x, y, z)]))
			}
		}
	}
	return v, nil
}

// Artifacts locates the serialized network.
type Artifacts struct {
	// Architecture is the model definition (JSON).
	Architecture string
	// Weights is the trained parameter file.
	Weights string
}

// Request is one inference call.
type Request struct {
	Tensor    *Tensor
	Artifacts Artifacts
	// Affine is the fixed-grid affine the output is attached to.
	Affine volume.Affine
}

// Predictor runs the network. Implementations return a probability volume on
// the N³ grid of the request carrying the request affine.
type Predictor interface {
	Predict(ctx context.Context, req Request) (*volume.Volume, error)
}

// PredictorFunc adapts a function to the Predictor interface.
type PredictorFunc func(ctx context.Context, req Request) (*volume.Volume, error)

// Predict calls f.
func (f PredictorFunc) Predict(ctx context.Context, req Request) (*volume.Volume, error) {
	return f(ctx, req)
}

// Run validates the request, calls p and checks the output shape. Every
// failure is wrapped in ErrInference.
func Run(ctx context.Context, p Predictor, req Request) (*volume.Volume, error) {
	if req.Tensor == nil || len(req.Tensor.Data) == 0 {
		return nil, fmt.Errorf("%w: empty input tensor", ErrInference)
	}
	out, err := p.Predict(ctx, req)
	if err != nil {
		if errors.Is(err, ErrInference) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	n := req.Tensor.GridSize()
	if out == nil || out.Dims != [3]int{n, n, n} {
		var dims [3]int
		if out != nil {
			dims = out.Dims
		}
		return nil, fmt.Errorf("%w: output dimensions %v, want %d³", ErrInference, dims, n)
	}
	out.Affine = req.Affine
	return out, nil
}
