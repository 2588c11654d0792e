package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectVariant(t *testing.T) {
	tests := []struct {
		name      string
		available []Modality
		want      Variant
		channels  int
	}{
		{"t1 only", []Modality{T1}, VariantT1, 1},
		{"t1 and flair", []Modality{T1, FLAIR}, VariantT1FLAIR, 2},
		{"all three", []Modality{T1, FLAIR, T2}, VariantAll, 3},
		{"t2 without flair", []Modality{T1, T2}, VariantT1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := SelectVariant(tt.available)
			assert.Equal(t, tt.want, v)
			assert.Len(t, v.Modalities(), tt.channels)
		})
	}
	assert.Equal(t, "vent_t1fl_model.json", VariantT1FLAIR.ModelFile())
	assert.Equal(t, "vent_model_weights.h5", VariantAll.WeightsFile())
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestResolveSubjectDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub01")
	touch(t, filepath.Join(dir, "sub01_T1_nu.nii.gz"))
	touch(t, filepath.Join(dir, "sub01_T1acq_nu_HfB_pred.nii.gz"))
	touch(t, filepath.Join(dir, "sub01_T1acq_nu_FL.nii.gz"))

	s, err := Resolve(Query{SubjectDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "sub01", s.ID)
	assert.Equal(t, []Modality{T1, FLAIR}, s.Available())
	assert.False(t, s.Has(T2))
	assert.Equal(t, filepath.Join(dir, "sub01_T1acq_nu_ventricles_pred.nii.gz"), s.Output)
	assert.Equal(t, filepath.Join(dir, "pred_process"), s.WorkDir())
	assert.Equal(t, filepath.Join(dir, "logs", "seg_vent.log"), s.LogFile())
	require.NoError(t, s.Validate())
}

func TestResolveSession(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub01_ses2"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub01_ses1"), 0o755))

	s, err := Resolve(Query{SubjectDir: root, Session: "ses1"})
	require.NoError(t, err)
	assert.Equal(t, "sub01_ses1", s.ID)

	_, err = Resolve(Query{SubjectDir: root, Session: "ses9"})
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestResolveFromT1(t *testing.T) {
	dir := t.TempDir()
	t1 := filepath.Join(dir, "scan.nii.gz")
	touch(t, t1)
	// default secondary names are ignored without a subject directory
	touch(t, filepath.Join(dir, filepath.Base(dir)+"_T1acq_nu_FL.nii.gz"))

	s, err := Resolve(Query{T1: t1, T2: filepath.Join(dir, "t2.nii.gz"), Output: "out.nii.gz"})
	require.NoError(t, err)
	assert.Equal(t, t1, s.Paths[T1])
	assert.False(t, s.Has(FLAIR))
	assert.True(t, s.Has(T2))
	assert.Equal(t, "out.nii.gz", s.Output)

	// neither the mask nor the explicit T2 exist
	assert.ErrorIs(t, s.Validate(), ErrMissingInput)
}

func TestResolveRequiresSubjectOrT1(t *testing.T) {
	_, err := Resolve(Query{})
	assert.ErrorIs(t, err, ErrMissingInput)
}
