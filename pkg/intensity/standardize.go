// Package intensity masks volumes to the brain and applies local-window
// intensity normalization.
package intensity

import (
	"errors"
	"fmt"
	"math"

	"ventmapper/pkg/volume"
)

// ErrGridMismatch is returned when an image and its mask do not share a grid.
var ErrGridMismatch = errors.New("image and mask are on different grids")

// DefaultRadius is the half-width of the normalization window along each axis.
var DefaultRadius = [3]int{25, 25, 25}

// Mask returns the voxel-wise product of img and mask.
func Mask(img, mask *volume.Volume) (*volume.Volume, error) {
	if !img.SameGrid(mask) {
		return nil, fmt.Errorf("%w: %v vs %v", ErrGridMismatch, img.Dims, mask.Dims)
	}
	data := make([]float64, img.Len())
	for i, v := range img.Data {
		data[i] = v * mask.Data[i]
	}
	return img.Like(data)
}

// Standardize masks img and replaces every in-mask voxel by its z-score
// against the mean and standard deviation of the cubic window of the given
// radius around it. The window is clipped at the grid boundary. Non-finite
// results and voxels outside the mask become zero.
func Standardize(img, mask *volume.Volume, radius [3]int) (*volume.Volume, error) {
	for _, r := range radius {
		if r < 0 {
			return nil, fmt.Errorf("invalid window radius %v", radius)
		}
	}
	masked, err := Mask(img, mask)
	if err != nil {
		return nil, err
	}

	sum := newSummedArea(masked, false)
	sq := newSummedArea(masked, true)

	nx, ny, nz := img.Dims[0], img.Dims[1], img.Dims[2]
	out := make([]float64, img.Len())
	for z := 0; z < nz; z++ {
		z0, z1 := max(z-radius[2], 0), min(z+radius[2], nz-1)
		for y := 0; y < ny; y++ {
			y0, y1 := max(y-radius[1], 0), min(y+radius[1], ny-1)
			for x := 0; x < nx; x++ {
				idx := masked.Index(x, y, z)
				if mask.Data[idx] == 0 {
					continue
				}
				x0, x1 := max(x-radius[0], 0), min(x+radius[0], nx-1)
				n := float64((x1 - x0 + 1) * (y1 - y0 + 1) * (z1 - z0 + 1))

				mean := sum.box(x0, y0, z0, x1, y1, z1) / n
				variance := sq.box(x0, y0, z0, x1, y1, z1)/n - mean*mean
				if variance < 0 {
					variance = 0
				}
				val := (masked.Data[idx] - mean) / math.Sqrt(variance)
				if math.IsNaN(val) || math.IsInf(val, 0) {
					val = 0
				}
				out[idx] = val
			}
		}
	}
	return masked.Like(out)
}

// summedArea is a 3D inclusive prefix-sum table padded with a zero border.
type summedArea struct {
	table      []float64
	sx, sy, sz int
}

func newSummedArea(v *volume.Volume, squared bool) *summedArea {
	s := &summedArea{sx: v.Dims[0] + 1, sy: v.Dims[1] + 1, sz: v.Dims[2] + 1}
	s.table = make([]float64, s.sx*s.sy*s.sz)
	for z := 1; z < s.sz; z++ {
		for y := 1; y < s.sy; y++ {
			for x := 1; x < s.sx; x++ {
				val := v.At(x-1, y-1, z-1)
				if squared {
					val *= val
				}
				s.table[s.at(x, y, z)] = val +
					s.table[s.at(x-1, y, z)] + s.table[s.at(x, y-1, z)] + s.table[s.at(x, y, z-1)] -
					s.table[s.at(x-1, y-1, z)] - s.table[s.at(x-1, y, z-1)] - s.table[s.at(x, y-1, z-1)] +
					s.table[s.at(x-1, y-1, z-1)]
			}
		}
	}
	return s
}

func (s *summedArea) at(x, y, z int) int {
	return z*s.sx*s.sy + y*s.sx + x
}

// box returns the sum over voxels [x0..x1]x[y0..y1]x[z0..z1] inclusive.
func (s *summedArea) box(x0, y0, z0, x1, y1, z1 int) float64 {
	x1, y1, z1 = x1+1, y1+1, z1+1
	return s.table[s.at(x1, y1, z1)] -
		s.table[s.at(x0, y1, z1)] - s.table[s.at(x1, y0, z1)] - s.table[s.at(x1, y1, z0)] +
		s.table[s.at(x0, y0, z1)] + s.table[s.at(x0, y1, z0)] + s.table[s.at(x1, y0, z0)] -
		s.table[s.at(x0, y0, z0)]
}
