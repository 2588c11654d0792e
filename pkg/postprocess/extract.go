// Package postprocess turns the network's probability map into a binary
// ventricle mask by keeping the connected components that reach the centre
// of the brain.
package postprocess

import (
	"errors"
	"fmt"
	"math"

	"ventmapper/pkg/nifti"
	"ventmapper/pkg/volume"
)

var (
	// ErrNoComponent is returned when no thresholded component touches the seed.
	ErrNoComponent = errors.New("no component intersects the centre seed")

	// ErrEmptyMask is returned when the brain mask has no voxels.
	ErrEmptyMask = errors.New("brain mask is empty")
)

// Options controls extraction.
type Options struct {
	// Threshold is the strict lower bound for a voxel to be foreground.
	Threshold float64

	// SmoothFWHM is the Gaussian full width at half maximum in voxels applied
	// before thresholding. Zero disables smoothing.
	SmoothFWHM float64

	// SeedIterations is the number of 6-connected dilations grown from the
	// mask centroid.
	SeedIterations int

	// Connectivity is 6 (faces) or 26 (faces, edges and corners).
	Connectivity int
}

// DefaultOptions returns the standard extraction settings.
func DefaultOptions() Options {
	return Options{
		Threshold:      0.5,
		SmoothFWHM:     2,
		SeedIterations: 10,
		Connectivity:   6,
	}
}

// Validate checks the option values.
func (o Options) Validate() error {
	if o.Connectivity != 6 && o.Connectivity != 26 {
		return fmt.Errorf("connectivity must be 6 or 26, got %d", o.Connectivity)
	}
	if o.SeedIterations < 0 {
		return fmt.Errorf("seed iterations must be non-negative, got %d", o.SeedIterations)
	}
	if o.SmoothFWHM < 0 {
		return fmt.Errorf("smoothing FWHM must be non-negative, got %g", o.SmoothFWHM)
	}
	return nil
}

// Extract thresholds prob (optionally smoothed), grows a seed around the
// centroid of mask and returns the union of every connected component that
// intersects the seed as a uint8 mask on prob's grid.
func Extract(prob, mask *volume.Volume, opts Options) (*volume.Volume, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if !prob.SameGrid(mask) {
		return nil, fmt.Errorf("probability map %v and mask %v are on different grids", prob.Dims, mask.Dims)
	}

	smoothed := prob
	if opts.SmoothFWHM > 0 {
		smoothed = Smooth(prob, opts.SmoothFWHM)
	}
	fg := make([]bool, prob.Len())
	for i, v := range smoothed.Data {
		fg[i] = v > opts.Threshold
	}

	center, err := Centroid(mask)
	if err != nil {
		return nil, err
	}
	labels, _ := Label(fg, prob.Dims, opts.Connectivity)

	keep := map[int32]bool{}
	r := opts.SeedIterations
	for z := max(center[2]-r, 0); z <= min(center[2]+r, prob.Dims[2]-1); z++ {
		for y := max(center[1]-r, 0); y <= min(center[1]+r, prob.Dims[1]-1); y++ {
			for x := max(center[0]-r, 0); x <= min(center[0]+r, prob.Dims[0]-1); x++ {
				if abs(x-center[0])+abs(y-center[1])+abs(z-center[2]) > r {
					continue
				}
				if l := labels[prob.Index(x, y, z)]; l != 0 {
					keep[l] = true
				}
			}
		}
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("%w at voxel %v", ErrNoComponent, center)
	}

	out := make([]float64, prob.Len())
	for i, l := range labels {
		if keep[l] {
			out[i] = 1
		}
	}
	result, err := prob.Like(out)
	if err != nil {
		return nil, err
	}
	result.Meta.Datatype = nifti.DTUint8
	return result, nil
}

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

// Centroid returns the rounded mean voxel coordinate of the non-zero voxels of mask.
func Centroid(mask *volume.Volume) ([3]int, error) {
	var sum [3]float64
	n := 0
	for idx, v := range mask.Data {
		if v == 0 {
			continue
		}
		x, y, z := mask.Coords(idx)
		sum[0] += float64(x)
		sum[1] += float64(y)
		sum[2] += float64(z)
		n++
	}
	if n == 0 {
		return [3]int{}, ErrEmptyMask
	}
	var c [3]int
	for a := 0; a < 3; a++ {
		c[a] = int(math.Round(sum[a] / float64(n)))
	}
	return c, nil
}
