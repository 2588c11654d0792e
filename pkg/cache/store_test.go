package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventmapper/internal/testutil"
	"ventmapper/pkg/volume"
)

func TestPathNaming(t *testing.T) {
	s := New("/work/pred_process", false)
	k := Key{Subject: "sub01", Modality: "flair", Stage: StageStandardized}
	assert.Equal(t, "/work/pred_process/sub01_flair_standardized.nii.gz", s.Path(k))
}

func TestGetOrComputeReusesArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pred_process")
	s := New(dir, false)
	k := Key{Subject: "sub01", Modality: "t1", Stage: StageCropped}

	var hits, misses int
	s.Observe(func(stage Stage, hit bool) {
		assert.Equal(t, StageCropped, stage)
		if hit {
			hits++
		} else {
			misses++
		}
	})

	calls := 0
	compute := func() (*volume.Volume, error) {
		calls++
		return testutil.Ramp(t, [3]int{3, 4, 5}, volume.Diagonal(-1, 1, 1)), nil
	}

	first, err := s.GetOrCompute(k, compute)
	require.NoError(t, err)
	second, err := s.GetOrCompute(k, compute)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), s.Writes())
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
	assert.True(t, first.SameGrid(second))
	assert.InDeltaSlice(t, first.Data, second.Data, 1e-6)
}

func TestForceRecomputes(t *testing.T) {
	dir := t.TempDir()
	k := Key{Subject: "s", Modality: "t1", Stage: StageOrient}
	compute := func() (*volume.Volume, error) {
		return testutil.NewVolume(t, [3]int{2, 2, 2}, volume.Identity()), nil
	}

	_, err := New(dir, false).GetOrCompute(k, compute)
	require.NoError(t, err)

	forced := New(dir, true)
	_, ok, err := forced.Load(k)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = forced.GetOrCompute(k, compute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), forced.Writes())
}

func TestComputeErrorWritesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "work")
	s := New(dir, false)
	boom := errors.New("boom")
	_, err := s.GetOrCompute(Key{Subject: "s", Modality: "t1", Stage: StageMasked}, func() (*volume.Volume, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), s.Writes())
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCorruptArtifactIsAnError(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, false)
	k := Key{Subject: "s", Modality: "t1", Stage: StageResampled}
	require.NoError(t, os.WriteFile(s.Path(k), []byte("not a volume"), 0o644))

	_, _, err := s.Load(k)
	assert.Error(t, err)
}
