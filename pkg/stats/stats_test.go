package stats

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventmapper/internal/testutil"
	"ventmapper/pkg/volume"
)

func TestSummarize(t *testing.T) {
	seg := testutil.NewVolume(t, [3]int{10, 10, 10}, volume.Diagonal(-1, 1, 2))
	testutil.AddBox(seg, [3]int{0, 0, 0}, [3]int{4, 4, 3}, 1)

	s := Summarize("sub01", seg)
	assert.Equal(t, 100, s.Voxels)
	assert.InDelta(t, 200.0, s.VolumeMM3, 1e-9)
	assert.InDelta(t, 0.2, s.VolumeML(), 1e-12)
}

func TestOverlap(t *testing.T) {
	a := testutil.NewVolume(t, [3]int{4, 4, 4}, volume.Identity())
	b := testutil.NewVolume(t, a.Dims, a.Affine)
	testutil.AddBox(a, [3]int{0, 0, 0}, [3]int{1, 1, 1}, 1) // 8 voxels
	testutil.AddBox(b, [3]int{1, 0, 0}, [3]int{2, 1, 1}, 1) // 8 voxels, 4 shared

	dice, jaccard, err := Overlap(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, dice, 1e-12)
	assert.InDelta(t, 4.0/12, jaccard, 1e-12)

	empty := testutil.NewVolume(t, a.Dims, a.Affine)
	dice, _, err = Overlap(empty, empty)
	require.NoError(t, err)
	assert.Equal(t, 1.0, dice)

	_, _, err = Overlap(a, testutil.NewVolume(t, [3]int{4, 4, 5}, a.Affine))
	assert.Error(t, err)
}

func TestAggregate(t *testing.T) {
	g := Aggregate([]Summary{{VolumeMM3: 10}, {VolumeMM3: 20}, {VolumeMM3: 30}})
	assert.Equal(t, 3, g.N)
	assert.InDelta(t, 20.0, g.MeanMM3, 1e-12)
	assert.InDelta(t, 10.0, g.StdDevMM3, 1e-12)

	assert.Equal(t, Group{N: 1, MeanMM3: 5}, Aggregate([]Summary{{VolumeMM3: 5}}))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	summaries := []Summary{
		{Subject: "a", Voxels: 10, VolumeMM3: 10000, HasReference: true, Dice: 0.9, Jaccard: 0.8},
		{Subject: "b", Voxels: 20, VolumeMM3: 30000},
	}
	require.NoError(t, WriteCSV(&buf, summaries))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"subject", "voxels", "volume_mm3", "volume_ml", "dice", "jaccard"}, rows[0])
	assert.Equal(t, []string{"a", "10", "10000.000", "10.000", "0.900", "0.800"}, rows[1])
	assert.Equal(t, "", rows[2][4])
	assert.Equal(t, "mean", rows[3][0])
	assert.Equal(t, "20000.000", rows[3][2])
	assert.Equal(t, "std", rows[4][0])
}
