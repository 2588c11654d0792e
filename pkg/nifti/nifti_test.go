package nifti

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventmapper/internal/testutil"
	"ventmapper/pkg/volume"
)

func obliqueAffine() volume.Affine {
	theta := 0.3
	a := volume.Identity()
	a[0][0], a[0][1] = -1.2*math.Cos(theta), -0.9*math.Sin(theta)
	a[1][0], a[1][1] = -1.2*math.Sin(theta), 0.9*math.Cos(theta)
	a[2][2] = 2.0
	a[0][3], a[1][3], a[2][3] = 90, -120, -60
	return a
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := testutil.Ramp(t, [3]int{7, 5, 3}, obliqueAffine())
	src.Meta.Description = "ramp"

	for _, name := range []string{"ramp.nii", "ramp.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, Write(path, src))

			got, err := Read(path)
			require.NoError(t, err)
			assert.Equal(t, src.Dims, got.Dims)
			assert.True(t, src.Affine.Equal(got.Affine, 1e-4), "affine changed: %v", got.Affine)
			assert.Equal(t, "ramp", got.Meta.Description)
			for i := range src.Data {
				assert.InDelta(t, src.Data[i], got.Data[i], 1e-5)
			}
		})
	}
}

func TestQformMatchesSform(t *testing.T) {
	src := testutil.Ramp(t, [3]int{4, 4, 4}, obliqueAffine())
	raw, err := Encode(src)
	require.NoError(t, err)

	h, _, err := decodeHeader(raw)
	require.NoError(t, err)

	h.SformCode = 0
	assert.True(t, src.Affine.Equal(h.Affine(), 1e-4), "qform affine %v", h.Affine())
}

func TestUint8Datatype(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.nii.gz")
	v := testutil.NewVolume(t, [3]int{3, 3, 3}, volume.Identity())
	v.Data[4] = 1
	v.Data[5] = 0.7
	v.Meta.Datatype = DTUint8
	require.NoError(t, Write(path, v))

	h, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, DTUint8, h.Datatype)
	assert.Equal(t, int16(8), h.Bitpix)

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Data[4])
	assert.Equal(t, 1.0, got.Data[5])
	assert.Equal(t, 2, got.CountNonZero())
}

func TestReadRejectsInvalidFiles(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "short.nii")
	require.NoError(t, os.WriteFile(short, []byte("not an image"), 0644))
	_, err := Read(short)
	assert.Error(t, err)

	_, err = Read(filepath.Join(dir, "missing.nii.gz"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	src := testutil.Ramp(t, [3]int{2, 2, 2}, volume.Identity())
	raw, err := Encode(src)
	require.NoError(t, err)
	raw[344] = 'x'
	_, err = Decode(raw)
	assert.Error(t, err)
}

// setDim patches dim[i] of an encoded little-endian header.
func setDim(raw []byte, i int, d int16) {
	binary.LittleEndian.PutUint16(raw[40+2*i:], uint16(d))
}

func TestDecodeRejectsNonPositiveDims(t *testing.T) {
	src := testutil.Ramp(t, [3]int{2, 2, 1}, volume.Identity())
	raw, err := Encode(src)
	require.NoError(t, err)

	tests := []struct {
		name string
		dims map[int]int16
	}{
		{"one negative dim", map[int]int16{1: -2}},
		{"two negative dims", map[int]int16{1: -2, 2: -2}},
		{"zero dim", map[int]int16{3: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patched := append([]byte(nil), raw...)
			for i, d := range tt.dims {
				setDim(patched, i, d)
			}
			var v *volume.Volume
			require.NotPanics(t, func() { v, err = Decode(patched) })
			assert.Error(t, err)
			assert.Nil(t, v)
		})
	}
}

func TestEncodeRejectsOversizedDims(t *testing.T) {
	v := &volume.Volume{Dims: [3]int{math.MaxInt16 + 1, 1, 1}, Affine: volume.Identity()}
	v.Data = make([]float64, v.Len())
	_, err := Encode(v)
	assert.Error(t, err)
}

func TestWriteLeavesNoTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	src := testutil.Ramp(t, [3]int{2, 2, 2}, volume.Identity())
	require.NoError(t, Write(filepath.Join(dir, "a.nii.gz"), src))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.nii.gz", entries[0].Name())
}
