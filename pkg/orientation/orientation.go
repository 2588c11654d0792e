// Package orientation detects the axis orientation code of a volume and
// reorients volumes between codes without changing the physical position of
// any voxel.
//
// Codes follow the ITK/c3d convention: each letter names the anatomical side
// a voxel axis starts from. "LPI" is therefore the RAS+ layout and "RPI" the
// LAS+ layout.
package orientation

import (
	"fmt"
	"math"
	"strings"

	"ventmapper/pkg/volume"
)

// obliqueTolerance is how far a normalised direction cosine may fall below 1
// before the grid is reported as oblique.
const obliqueTolerance = 1e-4

// DefaultCanonical are the codes the segmentation model accepts.
var DefaultCanonical = []string{"RPI", "LPI"}

// letters[i] holds the code letter of world axis i for a voxel axis running
// along +i and along -i.
var letters = [3][2]byte{{'L', 'R'}, {'P', 'A'}, {'I', 'S'}}

var permutations = [6][3]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

// Info describes the orientation of a grid.
type Info struct {
	// Code is the orientation code, or the closest code for oblique grids.
	Code string

	// Oblique is set when the voxel axes are not aligned with the world axes.
	Oblique bool
}

// String renders the diagnostic form, e.g. "RPI" or "Oblique, closest to RPI".
func (i Info) String() string {
	if i.Oblique {
		return "Oblique, closest to " + i.Code
	}
	return i.Code
}

// Detect computes the orientation of affine a.
func Detect(a volume.Affine) (Info, error) {
	var cos [3][3]float64 // cos[j][i]: voxel axis j against world axis i
	sp := a.Spacing()
	for j := 0; j < 3; j++ {
		if sp[j] == 0 {
			return Info{}, volume.ErrSingularAffine
		}
		for i := 0; i < 3; i++ {
			cos[j][i] = a[i][j] / sp[j]
		}
	}

	best, bestScore := 0, -1.0
	for p, perm := range permutations {
		score := 0.0
		for j := 0; j < 3; j++ {
			score += math.Abs(cos[j][perm[j]])
		}
		if score > bestScore {
			best, bestScore = p, score
		}
	}

	var info Info
	code := make([]byte, 3)
	for j, i := range permutations[best] {
		c := cos[j][i]
		if c >= 0 {
			code[j] = letters[i][0]
		} else {
			code[j] = letters[i][1]
		}
		if math.Abs(c) < 1-obliqueTolerance {
			info.Oblique = true
		}
	}
	info.Code = string(code)
	return info, nil
}

// worldAxis returns the world axis named by an orientation letter and whether
// the letter denotes the positive direction.
func worldAxis(letter byte) (int, bool, error) {
	for i, pair := range letters {
		switch letter {
		case pair[0]:
			return i, true, nil
		case pair[1]:
			return i, false, nil
		}
	}
	return 0, false, fmt.Errorf("invalid orientation letter %q", letter)
}

// ValidCode reports whether code names each world axis exactly once.
func ValidCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	var seen [3]bool
	for k := 0; k < 3; k++ {
		i, _, err := worldAxis(code[k])
		if err != nil || seen[i] {
			return false
		}
		seen[i] = true
	}
	return true
}

// Transform is an axis permutation with optional flips: output axis k reads
// input axis Perm[k], reversed when Flip[k] is set.
type Transform struct {
	Perm [3]int
	Flip [3]bool
}

// IsIdentity reports whether t leaves the grid untouched.
func (t Transform) IsIdentity() bool {
	return t.Perm == [3]int{0, 1, 2} && t.Flip == [3]bool{}
}

// Inverse returns the transform undoing t.
func (t Transform) Inverse() Transform {
	var inv Transform
	for k, j := range t.Perm {
		inv.Perm[j] = k
		inv.Flip[j] = t.Flip[k]
	}
	return inv
}

// Between computes the transform taking a grid with code from into code to.
func Between(from, to string) (Transform, error) {
	if !ValidCode(from) {
		return Transform{}, fmt.Errorf("invalid orientation code %q", from)
	}
	if !ValidCode(to) {
		return Transform{}, fmt.Errorf("invalid orientation code %q", to)
	}
	var t Transform
	for k := 0; k < 3; k++ {
		wk, posK, _ := worldAxis(to[k])
		for j := 0; j < 3; j++ {
			wj, posJ, _ := worldAxis(from[j])
			if wj == wk {
				t.Perm[k] = j
				t.Flip[k] = posJ != posK
			}
		}
	}
	return t, nil
}

// Apply permutes and flips the axes of v. The affine is updated so every voxel
// keeps its physical position.
func Apply(v *volume.Volume, t Transform) (*volume.Volume, error) {
	if t.IsIdentity() {
		return v.Clone(), nil
	}

	var dims [3]int
	for k := 0; k < 3; k++ {
		dims[k] = v.Dims[t.Perm[k]]
	}

	// m maps output voxel indices to input voxel indices.
	m := volume.Identity()
	for k := 0; k < 3; k++ {
		j := t.Perm[k]
		for r := 0; r < 3; r++ {
			m[r][k] = 0
		}
		if t.Flip[k] {
			m[j][k] = -1
			m[j][3] = float64(v.Dims[j] - 1)
		} else {
			m[j][k] = 1
			m[j][3] = 0
		}
	}

	out, err := volume.New(dims, v.Affine.Mul(m))
	if err != nil {
		return nil, err
	}
	out.Meta = v.Meta

	var src [3]int
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				for k, n := range [3]int{x, y, z} {
					j := t.Perm[k]
					if t.Flip[k] {
						src[j] = v.Dims[j] - 1 - n
					} else {
						src[j] = n
					}
				}
				out.Set(x, y, z, v.At(src[0], src[1], src[2]))
			}
		}
	}
	return out, nil
}

// Reorient brings v into the orientation named by code.
func Reorient(v *volume.Volume, code string) (*volume.Volume, Transform, error) {
	info, err := Detect(v.Affine)
	if err != nil {
		return nil, Transform{}, err
	}
	t, err := Between(info.Code, code)
	if err != nil {
		return nil, Transform{}, err
	}
	out, err := Apply(v, t)
	if err != nil {
		return nil, Transform{}, err
	}
	return out, t, nil
}

// handedness returns the R/L letter found in the trailing code of a
// diagnostic orientation string, or 0 when none is present.
func handedness(description string) byte {
	tail := description
	if len(tail) > 3 {
		tail = tail[len(tail)-3:]
	}
	for i := 0; i < len(tail); i++ {
		if c := tail[i]; c == 'R' || c == 'L' {
			return c
		}
	}
	return 0
}

// pickCanonical selects the canonical code sharing the R/L letter of description.
func pickCanonical(description string, canonical []string) string {
	if h := handedness(description); h != 0 {
		for _, c := range canonical {
			if strings.IndexByte(c, h) >= 0 {
				return c
			}
		}
	}
	return canonical[0]
}
