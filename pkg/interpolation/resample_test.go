package interpolation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventmapper/internal/testutil"
	"ventmapper/pkg/orientation"
	"ventmapper/pkg/volume"
)

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("Linear")
	require.NoError(t, err)
	assert.Equal(t, Linear, m)

	m, err = ParseMethod("nearestneighbor")
	require.NoError(t, err)
	assert.Equal(t, Nearest, m)

	_, err = ParseMethod("cubic")
	assert.Error(t, err)
}

func TestSample(t *testing.T) {
	v := testutil.Ramp(t, [3]int{4, 4, 4}, volume.Identity())

	assert.InDelta(t, 1.5, Sample(v, [3]float64{0.5, 0.5, 0.5}, Linear), 1e-12)
	assert.InDelta(t, 6.25, Sample(v, [3]float64{2.25, 2, 2}, Linear), 1e-12)
	assert.Equal(t, 3.0, Sample(v, [3]float64{0.6, 1.4, 1}, Nearest))

	// within half a voxel of the border the edge value is used
	assert.Equal(t, 0.0, Sample(v, [3]float64{-0.4, 0, 0}, Linear))
	assert.InDelta(t, 9.0, Sample(v, [3]float64{3.4, 3, 3}, Linear), 1e-12)

	assert.Equal(t, 0.0, Sample(v, [3]float64{-0.6, 1, 1}, Nearest))
	assert.Equal(t, 0.0, Sample(v, [3]float64{1, 3.6, 1}, Linear))
}

func TestToGridGeometry(t *testing.T) {
	affine := volume.Diagonal(-1, 1.2, 1.5)
	affine[0][3], affine[1][3], affine[2][3] = 40, -20, -30
	v := testutil.Ramp(t, [3]int{40, 30, 20}, affine)

	out, err := ToGrid(v, 16, Linear)
	require.NoError(t, err)
	assert.Equal(t, [3]int{16, 16, 16}, out.Dims)

	info, err := orientation.Detect(out.Affine)
	require.NoError(t, err)
	assert.Equal(t, RASCode, info.Code)

	sp := out.Spacing()
	assert.InDelta(t, 40.0/16, sp[0], 1e-9)
	assert.InDelta(t, 1.2*30/16, sp[1], 1e-9)
	assert.InDelta(t, 1.5*20/16, sp[2], 1e-9)

	// the field of view starts at the same physical corner
	ras, _, err := orientation.Reorient(v, RASCode)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, ras.Affine[i][3], out.Affine[i][3], 1e-9)
	}
}

func TestToReferenceCopiesGrid(t *testing.T) {
	ref := testutil.NewVolume(t, [3]int{10, 12, 8}, volume.Diagonal(-0.9, 1, 1.1))
	ref.Meta.Description = "reference"
	small := testutil.NewVolume(t, [3]int{5, 5, 5}, volume.Diagonal(2, 2, 2))

	out, err := ToReference(small, ref, Nearest)
	require.NoError(t, err)
	assert.Equal(t, ref.Dims, out.Dims)
	assert.Equal(t, ref.Affine, out.Affine)
	assert.Equal(t, "reference", out.Meta.Description)
}

func dice(a, b *volume.Volume) float64 {
	var inter, na, nb float64
	for i := range a.Data {
		x, y := a.Data[i] != 0, b.Data[i] != 0
		if x {
			na++
		}
		if y {
			nb++
		}
		if x && y {
			inter++
		}
	}
	return 2 * inter / (na + nb)
}

func TestSphereRoundTrip(t *testing.T) {
	affine := volume.Diagonal(-1, 1, 1.5)
	native := testutil.Sphere(t, [3]int{48, 40, 30}, affine, [3]float64{24, 20, 15}, 9, 1)

	grid, err := ToGrid(native, 32, Nearest)
	require.NoError(t, err)
	assert.Greater(t, grid.CountNonZero(), 0)

	back, err := ToReference(grid, native, Nearest)
	require.NoError(t, err)
	assert.True(t, back.SameGrid(native))

	assert.Greater(t, dice(native, back), 0.85)
	ratio := float64(back.CountNonZero()) / float64(native.CountNonZero())
	assert.InDelta(t, 1.0, ratio, 0.15)
}
