package postprocess

import (
	"math"

	"ventmapper/pkg/volume"
)

// fwhmToSigma converts a full width at half maximum into a standard deviation.
var fwhmToSigma = 1 / (2 * math.Sqrt(2*math.Ln2))

// gaussianKernel returns a normalised kernel truncated at four standard deviations.
func gaussianKernel(sigma float64) []float64 {
	radius := int(4*sigma + 0.5)
	k := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+radius] = w
		sum += w
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// reflect maps i into [0, n) mirroring about the edges (d c b a | a b c d | d c b a).
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// Smooth applies an isotropic Gaussian filter with the given FWHM in voxels.
func Smooth(v *volume.Volume, fwhm float64) *volume.Volume {
	out := v.Clone()
	if fwhm <= 0 {
		return out
	}
	k := gaussianKernel(fwhm * fwhmToSigma)
	r := len(k) / 2

	strides := [3]int{1, v.Dims[0], v.Dims[0] * v.Dims[1]}
	line := make([]float64, 0, max(v.Dims[0], v.Dims[1], v.Dims[2]))
	for axis := 0; axis < 3; axis++ {
		n := v.Dims[axis]
		stride := strides[axis]
		for idx := range out.Data {
			x, y, z := out.Coords(idx)
			if [3]int{x, y, z}[axis] != 0 {
				continue
			}
			line = line[:0]
			for i := 0; i < n; i++ {
				line = append(line, out.Data[idx+i*stride])
			}
			for i := 0; i < n; i++ {
				var acc float64
				for j := -r; j <= r; j++ {
					acc += k[j+r] * line[reflect(i+j, n)]
				}
				out.Data[idx+i*stride] = acc
			}
		}
	}
	return out
}
