package orientation

import (
	"fmt"

	"ventmapper/pkg/volume"
)

// State records what the normalizer did to one input so the final prediction
// can be returned to the acquisition orientation.
type State struct {
	// Changed is set when the volume was reoriented.
	Changed bool

	// Description is the diagnostic orientation string of the input.
	Description string

	// OriginalCode is the (closest) code of the input.
	OriginalCode string

	// Code is the code after normalization.
	Code string

	// Oblique is set for inputs whose axes are not world-aligned.
	Oblique bool

	// Transform is the permutation applied; its inverse restores the input layout.
	Transform Transform
}

// Normalizer brings volumes into one of the canonical codes.
type Normalizer struct {
	// Canonical lists the accepted codes, right-handed variant first.
	Canonical []string

	// Enabled turns the check off when false; every volume is then reported unchanged.
	Enabled bool
}

// NewNormalizer returns an enabled normalizer for the given canonical codes.
func NewNormalizer(canonical []string) (*Normalizer, error) {
	if len(canonical) == 0 {
		canonical = DefaultCanonical
	}
	for _, c := range canonical {
		if !ValidCode(c) {
			return nil, fmt.Errorf("invalid canonical orientation %q", c)
		}
	}
	return &Normalizer{Canonical: canonical, Enabled: true}, nil
}

func (n *Normalizer) isCanonical(code string) bool {
	for _, c := range n.Canonical {
		if c == code {
			return true
		}
	}
	return false
}

// Plan decides what Normalize would do with a grid of the given affine
// without touching any voxel data.
func (n *Normalizer) Plan(affine volume.Affine) (State, error) {
	info, err := Detect(affine)
	if err != nil {
		return State{}, err
	}

	state := State{
		Description:  info.String(),
		OriginalCode: info.Code,
		Code:         info.Code,
		Oblique:      info.Oblique,
		Transform:    Transform{Perm: [3]int{0, 1, 2}},
	}
	if !n.Enabled || (!info.Oblique && n.isCanonical(info.Code)) {
		return state, nil
	}

	target := pickCanonical(state.Description, n.Canonical)
	t, err := Between(info.Code, target)
	if err != nil {
		return State{}, err
	}
	state.Changed = true
	state.Code = target
	state.Transform = t
	return state, nil
}

// Normalize returns v unchanged when it already has a canonical code and is
// not oblique. Otherwise it picks the canonical code whose handedness matches
// the diagnostic description and reorients v into it.
func (n *Normalizer) Normalize(v *volume.Volume) (*volume.Volume, State, error) {
	state, err := n.Plan(v.Affine)
	if err != nil {
		return nil, State{}, err
	}
	if !state.Changed {
		return v, state, nil
	}
	out, err := Apply(v, state.Transform)
	if err != nil {
		return nil, State{}, fmt.Errorf("reorient %s to %s: %w", state.OriginalCode, state.Code, err)
	}
	return out, state, nil
}

// Restore undoes the reorientation recorded in state.
func (n *Normalizer) Restore(v *volume.Volume, state State) (*volume.Volume, error) {
	if !state.Changed {
		return v, nil
	}
	return Apply(v, state.Transform.Inverse())
}
