// Package models defines the subject data model shared by the pipeline packages.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrMissingInput is returned when a required input file does not exist.
var ErrMissingInput = errors.New("required input is missing")

// Modality is an MRI acquisition sequence of a subject.
type Modality string

const (
	T1    Modality = "t1"
	FLAIR Modality = "flair"
	T2    Modality = "t2"
)

// Modalities lists every supported modality in channel order.
var Modalities = []Modality{T1, FLAIR, T2}

// Subject is one scan session to segment.
type Subject struct {
	// ID names the subject; it prefixes every derived file.
	ID string

	// Dir is the subject directory holding inputs and outputs.
	Dir string

	// Paths maps each available modality to its image file.
	Paths map[Modality]string

	// Mask is the brain mask in T1 space.
	Mask string

	// Output is the final segmentation path.
	Output string
}

// Has reports whether a path was given for modality m.
func (s *Subject) Has(m Modality) bool {
	return s.Paths[m] != ""
}

// Available returns the modalities with a path, in channel order.
func (s *Subject) Available() []Modality {
	var out []Modality
	for _, m := range Modalities {
		if s.Has(m) {
			out = append(out, m)
		}
	}
	return out
}

// WorkDir is where intermediate artifacts of the subject are kept.
func (s *Subject) WorkDir() string {
	return filepath.Join(s.Dir, "pred_process")
}

// LogFile is the per-subject log destination.
func (s *Subject) LogFile() string {
	return filepath.Join(s.Dir, "logs", "seg_vent.log")
}

// Validate checks that the required inputs exist. It never creates anything.
func (s *Subject) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: subject id", ErrMissingInput)
	}
	required := []struct {
		name, path string
	}{
		{"T1", s.Paths[T1]},
		{"brain mask", s.Mask},
	}
	for _, m := range []Modality{FLAIR, T2} {
		if s.Has(m) {
			required = append(required, struct{ name, path string }{string(m), s.Paths[m]})
		}
	}
	for _, r := range required {
		if r.path == "" {
			return fmt.Errorf("%w: no %s path given", ErrMissingInput, r.name)
		}
		if _, err := os.Stat(r.path); err != nil {
			return fmt.Errorf("%w: %s %s", ErrMissingInput, r.name, r.path)
		}
	}
	return nil
}

// Query is what the command line knows about a subject.
type Query struct {
	SubjectDir string
	Session    string
	T1         string
	FLAIR      string
	T2         string
	Mask       string
	Output     string
}

// Resolve turns a query into a Subject using the default file layout
//
//	<dir>/<id>_T1_nu.nii.gz
//	<dir>/<id>_T1acq_nu_FL.nii.gz
//	<dir>/<id>_T1acq_nu_T2.nii.gz
//	<dir>/<id>_T1acq_nu_HfB_pred.nii.gz
//
// where the subject directory is SubjectDir (or its first entry matching
// *Session) or else the directory of T1. Default FLAIR and T2 paths are only
// used if the files exist.
func Resolve(q Query) (*Subject, error) {
	var dir string
	switch {
	case q.SubjectDir != "" && q.Session != "":
		matches, err := filepath.Glob(filepath.Join(q.SubjectDir, "*"+q.Session))
		if err != nil {
			return nil, fmt.Errorf("find session %q: %w", q.Session, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: no session matching %q in %s", ErrMissingInput, q.Session, q.SubjectDir)
		}
		sort.Strings(matches)
		dir = matches[0]
	case q.SubjectDir != "":
		dir = q.SubjectDir
	case q.T1 != "":
		dir = filepath.Dir(q.T1)
	default:
		return nil, fmt.Errorf("%w: a subject directory or a T1 image must be given", ErrMissingInput)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	id := filepath.Base(abs)
	s := &Subject{ID: id, Dir: abs, Paths: map[Modality]string{}}

	s.Paths[T1] = pick(q.T1, filepath.Join(abs, id+"_T1_nu.nii.gz"))
	s.Mask = pick(q.Mask, filepath.Join(abs, id+"_T1acq_nu_HfB_pred.nii.gz"))
	s.Output = pick(q.Output, filepath.Join(abs, id+"_T1acq_nu_ventricles_pred.nii.gz"))

	for m, explicit := range map[Modality]string{FLAIR: q.FLAIR, T2: q.T2} {
		if explicit != "" {
			s.Paths[m] = explicit
			continue
		}
		if q.SubjectDir == "" {
			continue
		}
		suffix := "_T1acq_nu_FL.nii.gz"
		if m == T2 {
			suffix = "_T1acq_nu_T2.nii.gz"
		}
		if p := filepath.Join(abs, id+suffix); exists(p) {
			s.Paths[m] = p
		}
	}
	return s, nil
}

func pick(explicit, fallback string) string {
	if explicit != "" {
		return explicit
	}
	return fallback
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
