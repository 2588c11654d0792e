package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventmapper/internal/models"
	"ventmapper/internal/testutil"
	"ventmapper/pkg/config"
	"ventmapper/pkg/nifti"
	"ventmapper/pkg/segmentation"
	"ventmapper/pkg/volume"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestRootCommandStructure(t *testing.T) {
	root := newRootCommand(&app{})
	assert.Equal(t, "ventmapper", root.Use)

	names := map[string]bool{}
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"seg", "batch", "stats", "trim-like", "config"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
	for _, flag := range []string{"config", "log-level", "models", "backend", "quiet"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing flag %s", flag)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ventmapper.yaml")

	out, err := execute(t, "-q", "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Processing.GridSize)

	_, err = execute(t, "-q", "config", "init", path)
	assert.Error(t, err, "existing file must not be overwritten")

	out, err = execute(t, "-q", "-c", path, "--backend", "c3d", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "kind: c3d")
	assert.Contains(t, out, "gridSize: 128")
}

func TestTrimLike(t *testing.T) {
	dir := t.TempDir()
	img := testutil.Ramp(t, [3]int{10, 10, 10}, volume.Identity())
	ref := testutil.NewVolume(t, [3]int{6, 6, 6}, volume.Identity().Shift(2, 2, 2))
	require.NoError(t, nifti.Write(filepath.Join(dir, "img.nii.gz"), img))
	require.NoError(t, nifti.Write(filepath.Join(dir, "ref.nii.gz"), ref))

	out := filepath.Join(dir, "out.nii.gz")
	_, err := execute(t, "-q", "-c", filepath.Join(dir, "none.yaml"), "trim-like",
		filepath.Join(dir, "img.nii.gz"), filepath.Join(dir, "ref.nii.gz"), out)
	require.NoError(t, err)

	got, err := nifti.Read(out)
	require.NoError(t, err)
	assert.Equal(t, ref.Dims, got.Dims)
	assert.True(t, got.Affine.Equal(ref.Affine, volume.GridTolerance))
	assert.InDelta(t, img.At(2, 2, 2), got.At(0, 0, 0), 1e-4)

	_, err = execute(t, "-q", "trim-like", "a", "b")
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	seg := testutil.NewVolume(t, [3]int{8, 8, 8}, volume.Identity())
	testutil.AddBox(seg, [3]int{2, 2, 2}, [3]int{3, 3, 3}, 1)
	path := filepath.Join(dir, "sub01_vent.nii.gz")
	require.NoError(t, nifti.Write(path, seg))

	out, err := execute(t, "-q", "-c", filepath.Join(dir, "none.yaml"), "stats", "--ref", path, path)
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewBufferString(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"sub01_vent", "8", "8.000", "0.008", "1.000", "1.000"}, rows[1])
}

func TestSegMissingInputs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub01")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	_, err := execute(t, "-q", "-c", filepath.Join(dir, "none.yaml"), "--models", t.TempDir(), "seg", "-s", dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, segmentation.ErrPrecondition)
	assert.ErrorIs(t, err, models.ErrMissingInput)
	assert.NoDirExists(t, filepath.Join(dir, "pred_process"))
}

func TestBatchReportsFailures(t *testing.T) {
	root := t.TempDir()
	var dirs []string
	for _, id := range []string{"sub01", "sub02"} {
		d := filepath.Join(root, id)
		require.NoError(t, os.MkdirAll(d, 0o755))
		dirs = append(dirs, d)
	}
	list := filepath.Join(root, "subjects.txt")
	require.NoError(t, os.WriteFile(list, []byte("# cohort\n"+dirs[1]+"\n\n"), 0o644))

	out, err := execute(t, "-q", "-c", filepath.Join(root, "none.yaml"), "--models", t.TempDir(),
		"batch", "-j", "2", "--list", list, dirs[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 2 subjects failed")
	assert.Contains(t, out, "sub01: FAILED")
	assert.Contains(t, out, "sub02: FAILED")
}

func TestReadList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\n  b  \n# c\n\n"), 0o644))
	got, err := readList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}
