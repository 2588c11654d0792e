// Package interpolation resamples volumes between voxel grids. It maps scans
// onto the fixed isotropic grid the segmentation model expects and maps model
// output back onto the native acquisition grid.
package interpolation

import (
	"fmt"
	"math"
	"strings"

	"ventmapper/pkg/orientation"
	"ventmapper/pkg/volume"
)

// Method selects the interpolation kernel.
type Method int

const (
	// Nearest picks the closest voxel; used for masks and label maps.
	Nearest Method = iota
	// Linear is trilinear interpolation; used for intensities and probabilities.
	Linear
)

// RASCode is the orientation code of the right-anterior-superior layout.
const RASCode = "LPI"

// ParseMethod converts a configuration string into a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nearest", "nearestneighbor", "nn":
		return Nearest, nil
	case "linear", "trilinear", "continuous":
		return Linear, nil
	}
	return Nearest, fmt.Errorf("unknown interpolation %q (must be nearest or linear)", s)
}

func (m Method) String() string {
	if m == Linear {
		return "linear"
	}
	return "nearest"
}

// Sample evaluates v at continuous voxel coordinate p. Points further than
// half a voxel outside the grid sample as zero.
func Sample(v *volume.Volume, p [3]float64, m Method) float64 {
	for a := 0; a < 3; a++ {
		if p[a] < -0.5 || p[a] > float64(v.Dims[a])-0.5 {
			return 0
		}
	}

	if m == Nearest {
		x := clampIndex(int(math.Round(p[0])), v.Dims[0])
		y := clampIndex(int(math.Round(p[1])), v.Dims[1])
		z := clampIndex(int(math.Round(p[2])), v.Dims[2])
		return v.At(x, y, z)
	}

	var i0, i1 [3]int
	var w [3]float64
	for a := 0; a < 3; a++ {
		c := math.Max(0, math.Min(p[a], float64(v.Dims[a]-1)))
		f := math.Floor(c)
		i0[a] = int(f)
		i1[a] = min(i0[a]+1, v.Dims[a]-1)
		w[a] = c - f
	}

	c00 := lerp(v.At(i0[0], i0[1], i0[2]), v.At(i1[0], i0[1], i0[2]), w[0])
	c10 := lerp(v.At(i0[0], i1[1], i0[2]), v.At(i1[0], i1[1], i0[2]), w[0])
	c01 := lerp(v.At(i0[0], i0[1], i1[2]), v.At(i1[0], i0[1], i1[2]), w[0])
	c11 := lerp(v.At(i0[0], i1[1], i1[2]), v.At(i1[0], i1[1], i1[2]), w[0])
	return lerp(lerp(c00, c10, w[1]), lerp(c01, c11, w[1]), w[2])
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clampIndex(i, n int) int {
	return max(0, min(i, n-1))
}

// Reslice evaluates src on the grid described by affine and dims.
func Reslice(src *volume.Volume, affine volume.Affine, dims [3]int, m Method) (*volume.Volume, error) {
	out, err := volume.New(dims, affine)
	if err != nil {
		return nil, err
	}
	out.Meta = src.Meta

	inv, err := src.Affine.Inverse()
	if err != nil {
		return nil, err
	}
	// target voxel -> world -> source voxel
	toSrc := inv.Mul(affine)

	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				p := toSrc.Apply([3]float64{float64(x), float64(y), float64(z)})
				out.Set(x, y, z, Sample(src, p, m))
			}
		}
	}
	return out, nil
}

// ToGrid maps v onto an n×n×n grid covering the same field of view: the axes
// are first reordered into the RAS layout, then the voxel size along each
// axis is scaled by dims/n and the intensities are resampled.
func ToGrid(v *volume.Volume, n int, m Method) (*volume.Volume, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid grid size %d", n)
	}
	ras, _, err := orientation.Reorient(v, RASCode)
	if err != nil {
		return nil, fmt.Errorf("reorder axes: %w", err)
	}

	var scale [3]float64
	for a := 0; a < 3; a++ {
		scale[a] = float64(ras.Dims[a]) / float64(n)
	}
	return Reslice(ras, ras.Affine.ScaleColumns(scale), [3]int{n, n, n}, m)
}

// ToReference maps v onto the grid of ref. The result carries ref's affine,
// dimensions and header exactly.
func ToReference(v, ref *volume.Volume, m Method) (*volume.Volume, error) {
	out, err := Reslice(v, ref.Affine, ref.Dims, m)
	if err != nil {
		return nil, err
	}
	out.Affine = ref.Affine
	out.Meta = ref.Meta
	return out, nil
}
