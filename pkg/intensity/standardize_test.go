package intensity

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventmapper/internal/testutil"
	"ventmapper/pkg/volume"
)

func TestMaskRequiresSameGrid(t *testing.T) {
	img := testutil.NewVolume(t, [3]int{4, 4, 4}, volume.Identity())
	mask := testutil.NewVolume(t, [3]int{4, 4, 5}, volume.Identity())
	_, err := Mask(img, mask)
	assert.ErrorIs(t, err, ErrGridMismatch)

	shifted := testutil.NewVolume(t, [3]int{4, 4, 4}, volume.Identity().Shift(1, 0, 0))
	_, err = Standardize(img, shifted, DefaultRadius)
	assert.ErrorIs(t, err, ErrGridMismatch)
}

func TestMaskZeroesOutsideBrain(t *testing.T) {
	img := testutil.Ramp(t, [3]int{6, 6, 6}, volume.Identity())
	mask := testutil.NewVolume(t, img.Dims, img.Affine)
	testutil.AddBox(mask, [3]int{1, 1, 1}, [3]int{3, 3, 3}, 1)

	masked, err := Mask(img, mask)
	require.NoError(t, err)
	assert.Equal(t, 0.0, masked.At(0, 0, 0))
	assert.Equal(t, 6.0, masked.At(2, 2, 2))
	assert.Equal(t, 0.0, masked.At(4, 4, 4))
}

func TestConstantImageStandardizesToZero(t *testing.T) {
	img := testutil.NewVolume(t, [3]int{5, 5, 5}, volume.Identity())
	mask := testutil.NewVolume(t, img.Dims, img.Affine)
	for i := range img.Data {
		img.Data[i] = 5
		mask.Data[i] = 1
	}

	out, err := Standardize(img, mask, [3]int{2, 2, 2})
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		assert.Equal(t, 0.0, v)
	}
}

func naiveZScore(img *volume.Volume, x, y, z int, r [3]int) float64 {
	var sum, sq, n float64
	for k := z - r[2]; k <= z+r[2]; k++ {
		for j := y - r[1]; j <= y+r[1]; j++ {
			for i := x - r[0]; i <= x+r[0]; i++ {
				if !img.InBounds(i, j, k) {
					continue
				}
				v := img.At(i, j, k)
				sum += v
				sq += v * v
				n++
			}
		}
	}
	mean := sum / n
	return (img.At(x, y, z) - mean) / math.Sqrt(sq/n-mean*mean)
}

func TestStandardizeMatchesNaiveWindow(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	img := testutil.NewVolume(t, [3]int{7, 6, 5}, volume.Diagonal(1, 1, 2))
	mask := testutil.NewVolume(t, img.Dims, img.Affine)
	for i := range img.Data {
		img.Data[i] = 100 + 50*rng.Float64()
		mask.Data[i] = 1
	}
	mask.Set(0, 0, 0, 0)

	radius := [3]int{1, 2, 1}
	out, err := Standardize(img, mask, radius)
	require.NoError(t, err)

	masked, err := Mask(img, mask)
	require.NoError(t, err)

	assert.Equal(t, 0.0, out.At(0, 0, 0))
	for _, p := range [][3]int{{1, 1, 1}, {3, 2, 2}, {6, 5, 4}, {0, 5, 0}} {
		want := naiveZScore(masked, p[0], p[1], p[2], radius)
		assert.InDelta(t, want, out.At(p[0], p[1], p[2]), 1e-6, "voxel %v", p)
	}
	assert.True(t, out.SameGrid(img))
}

func TestStandardizeRejectsNegativeRadius(t *testing.T) {
	img := testutil.NewVolume(t, [3]int{2, 2, 2}, volume.Identity())
	_, err := Standardize(img, img, [3]int{1, -1, 1})
	assert.Error(t, err)
}
