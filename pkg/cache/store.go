// Package cache persists per-stage pipeline artifacts so an interrupted or
// repeated run can skip work that is already on disk.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"ventmapper/pkg/nifti"
	"ventmapper/pkg/volume"
)

// Stage names an intermediate artifact.
type Stage string

const (
	StageOrient       Stage = "orient"
	StageMasked       Stage = "masked"
	StageStandardized Stage = "standardized"
	StageCropped      Stage = "cropped"
	StageResampled    Stage = "resampled"
)

// Key identifies one artifact.
type Key struct {
	Subject  string
	Modality string
	Stage    Stage
}

func (k Key) String() string {
	return fmt.Sprintf("%s_%s_%s", k.Subject, k.Modality, k.Stage)
}

// Observer is told about every lookup.
type Observer func(stage Stage, hit bool)

// Store reads and writes artifacts under Dir.
type Store struct {
	Dir string

	// Force makes every lookup miss so artifacts are regenerated.
	Force bool

	observer Observer
	writes   atomic.Int64
}

// New returns a store rooted at dir.
func New(dir string, force bool) *Store {
	return &Store{Dir: dir, Force: force}
}

// Observe registers fn to be called on every lookup.
func (s *Store) Observe(fn Observer) {
	s.observer = fn
}

// Path returns the file backing k.
func (s *Store) Path(k Key) string {
	return filepath.Join(s.Dir, k.String()+".nii.gz")
}

// Load returns the cached artifact for k. The boolean is false on a miss.
func (s *Store) Load(k Key) (*volume.Volume, bool, error) {
	hit := false
	defer func() {
		if s.observer != nil {
			s.observer(k.Stage, hit)
		}
	}()
	if s.Force {
		return nil, false, nil
	}
	v, err := nifti.Read(s.Path(k))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load cached %s: %w", k, err)
	}
	hit = true
	return v, true, nil
}

// Save writes v as the artifact for k.
func (s *Store) Save(k Key, v *volume.Volume) error {
	return s.Write(s.Path(k), v)
}

// Write persists v at an arbitrary path and counts it as a write.
func (s *Store) Write(path string, v *volume.Volume) error {
	if err := nifti.Write(path, v); err != nil {
		return err
	}
	s.writes.Add(1)
	return nil
}

// GetOrCompute returns the cached artifact for k or computes and saves it.
func (s *Store) GetOrCompute(k Key, compute func() (*volume.Volume, error)) (*volume.Volume, error) {
	v, ok, err := s.Load(k)
	if err != nil {
		return nil, err
	}
	if ok {
		return v, nil
	}
	v, err = compute()
	if err != nil {
		return nil, err
	}
	if err := s.Save(k, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Writes returns the number of files written through the store.
func (s *Store) Writes() int64 {
	return s.writes.Load()
}
