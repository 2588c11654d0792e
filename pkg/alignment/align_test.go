package alignment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventmapper/internal/testutil"
	"ventmapper/pkg/interpolation"
	"ventmapper/pkg/volume"
)

func TestTrimKeepsMarginAndPosition(t *testing.T) {
	affine := volume.Diagonal(-1, 1, 2)
	affine[0][3], affine[1][3], affine[2][3] = 30, -10, -20
	v := testutil.NewVolume(t, [3]int{20, 20, 20}, affine)
	testutil.AddBox(v, [3]int{5, 6, 7}, [3]int{9, 10, 11}, 3)

	out, err := Trim(v, DefaultMargin)
	require.NoError(t, err)
	assert.Equal(t, [3]int{7, 7, 7}, out.Dims)
	assert.Equal(t, 125, out.CountNonZero())

	// voxel (0,0,0) of the crop is voxel (4,5,6) of the input
	want := v.Affine.Apply([3]float64{4, 5, 6})
	got := out.Affine.Apply([3]float64{0, 0, 0})
	assert.InDeltaSlice(t, want[:], got[:], 1e-9)
	assert.Equal(t, 3.0, out.At(1, 1, 1))
	assert.Equal(t, 0.0, out.At(0, 0, 0))
}

func TestTrimClipsToGrid(t *testing.T) {
	v := testutil.NewVolume(t, [3]int{6, 6, 6}, volume.Identity())
	testutil.AddBox(v, [3]int{0, 0, 0}, [3]int{1, 5, 2}, 1)

	out, err := Trim(v, 3)
	require.NoError(t, err)
	assert.Equal(t, [3]int{5, 6, 6}, out.Dims)
}

func TestTrimEmptyVolume(t *testing.T) {
	v := testutil.NewVolume(t, [3]int{4, 4, 4}, volume.Identity())
	_, err := Trim(v, 1)
	assert.ErrorIs(t, err, ErrEmptyVolume)

	_, err = Trim(v, -1)
	assert.Error(t, err)
}

func TestTrimLikeMatchesReferenceGrid(t *testing.T) {
	t1 := testutil.Sphere(t, [3]int{24, 24, 20}, volume.Diagonal(1, 1, 1.2), [3]float64{12, 12, 10}, 6, 1)
	ref, err := Trim(t1, DefaultMargin)
	require.NoError(t, err)

	flair := testutil.Ramp(t, [3]int{16, 16, 10}, volume.Diagonal(1.5, 1.5, 2.4))
	for _, m := range []interpolation.Method{interpolation.Nearest, interpolation.Linear} {
		out, err := TrimLike(flair, ref, m)
		require.NoError(t, err)
		assert.Equal(t, ref.Dims, out.Dims)
		assert.Equal(t, ref.Affine, out.Affine)
		assert.True(t, out.SameGrid(ref))
	}
}
