// Package alignment crops volumes to their content and brings secondary
// modalities onto the cropped grid of the reference scan.
package alignment

import (
	"errors"
	"fmt"

	"ventmapper/pkg/interpolation"
	"ventmapper/pkg/volume"
)

// ErrEmptyVolume is returned when there is no non-zero voxel to crop around.
var ErrEmptyVolume = errors.New("volume has no non-zero voxels")

// DefaultMargin is the number of voxels kept around the bounding box.
const DefaultMargin = 1

// Bounds is an inclusive voxel box.
type Bounds struct {
	Lo, Hi [3]int
}

// Dims returns the size of the box.
func (b Bounds) Dims() [3]int {
	return [3]int{b.Hi[0] - b.Lo[0] + 1, b.Hi[1] - b.Lo[1] + 1, b.Hi[2] - b.Lo[2] + 1}
}

// ContentBounds returns the bounding box of the non-zero voxels of v.
func ContentBounds(v *volume.Volume) (Bounds, error) {
	b := Bounds{Lo: v.Dims, Hi: [3]int{-1, -1, -1}}
	for idx, val := range v.Data {
		if val == 0 {
			continue
		}
		x, y, z := v.Coords(idx)
		for a, c := range [3]int{x, y, z} {
			b.Lo[a] = min(b.Lo[a], c)
			b.Hi[a] = max(b.Hi[a], c)
		}
	}
	if b.Hi[0] < 0 {
		return Bounds{}, ErrEmptyVolume
	}
	return b, nil
}

// Crop copies the voxels inside b into a new volume whose affine places them
// at their original physical position.
func Crop(v *volume.Volume, b Bounds) (*volume.Volume, error) {
	for a := 0; a < 3; a++ {
		if b.Lo[a] < 0 || b.Hi[a] >= v.Dims[a] || b.Lo[a] > b.Hi[a] {
			return nil, fmt.Errorf("crop bounds %v..%v outside grid %v", b.Lo, b.Hi, v.Dims)
		}
	}
	out, err := volume.New(b.Dims(), v.Affine.Shift(float64(b.Lo[0]), float64(b.Lo[1]), float64(b.Lo[2])))
	if err != nil {
		return nil, err
	}
	out.Meta = v.Meta

	nx := out.Dims[0]
	for z := 0; z < out.Dims[2]; z++ {
		for y := 0; y < out.Dims[1]; y++ {
			src := v.Index(b.Lo[0], b.Lo[1]+y, b.Lo[2]+z)
			copy(out.Data[out.Index(0, y, z):out.Index(0, y, z)+nx], v.Data[src:src+nx])
		}
	}
	return out, nil
}

// Trim crops v to the bounding box of its non-zero voxels expanded by margin
// voxels on every side and clipped to the grid.
func Trim(v *volume.Volume, margin int) (*volume.Volume, error) {
	if margin < 0 {
		return nil, fmt.Errorf("invalid trim margin %d", margin)
	}
	b, err := ContentBounds(v)
	if err != nil {
		return nil, err
	}
	for a := 0; a < 3; a++ {
		b.Lo[a] = max(b.Lo[a]-margin, 0)
		b.Hi[a] = min(b.Hi[a]+margin, v.Dims[a]-1)
	}
	return Crop(v, b)
}

// TrimLike reslices v onto the grid of ref through world coordinates. The
// result has exactly ref's dimensions and affine.
func TrimLike(v, ref *volume.Volume, m interpolation.Method) (*volume.Volume, error) {
	out, err := interpolation.Reslice(v, ref.Affine, ref.Dims, m)
	if err != nil {
		return nil, fmt.Errorf("reslice onto reference grid: %w", err)
	}
	return out, nil
}
