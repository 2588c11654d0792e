package volume

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrSingularAffine is returned when the linear part of an affine cannot be inverted.
var ErrSingularAffine = errors.New("affine has a singular linear part")

// Affine is the 4x4 matrix mapping voxel indices (i, j, k, 1) to physical
// scanner coordinates in millimetres.
type Affine [4][4]float64

// Identity returns the identity affine.
func Identity() Affine {
	return Diagonal(1, 1, 1)
}

// Diagonal returns an axis-aligned affine with the given voxel spacing and no offset.
func Diagonal(sx, sy, sz float64) Affine {
	return Affine{
		{sx, 0, 0, 0},
		{0, sy, 0, 0},
		{0, 0, sz, 0},
		{0, 0, 0, 1},
	}
}

// Dense returns the affine as a gonum matrix.
func (a Affine) Dense() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m.Set(r, c, a[r][c])
		}
	}
	return m
}

// FromDense copies a 4x4 gonum matrix into an Affine.
func FromDense(m mat.Matrix) Affine {
	var a Affine
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			a[r][c] = m.At(r, c)
		}
	}
	return a
}

// Linear returns the 3x3 rotation/zoom/shear part.
func (a Affine) Linear() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.Set(r, c, a[r][c])
		}
	}
	return m
}

// Det returns the determinant of the linear part.
func (a Affine) Det() float64 {
	return mat.Det(a.Linear())
}

// Mul returns a × b.
func (a Affine) Mul(b Affine) Affine {
	var out mat.Dense
	out.Mul(a.Dense(), b.Dense())
	return FromDense(&out)
}

// Inverse returns the inverse transform, mapping physical coordinates back to voxel indices.
func (a Affine) Inverse() (Affine, error) {
	if math.Abs(a.Det()) < 1e-12 {
		return Affine{}, ErrSingularAffine
	}
	var inv mat.Dense
	if err := inv.Inverse(a.Dense()); err != nil {
		return Affine{}, fmt.Errorf("invert affine: %w", err)
	}
	return FromDense(&inv), nil
}

// Apply maps the point p through the affine.
func (a Affine) Apply(p [3]float64) [3]float64 {
	var out [3]float64
	for r := 0; r < 3; r++ {
		out[r] = a[r][0]*p[0] + a[r][1]*p[1] + a[r][2]*p[2] + a[r][3]
	}
	return out
}

// Column returns the direction vector of voxel axis c in physical space.
func (a Affine) Column(c int) []float64 {
	return []float64{a[0][c], a[1][c], a[2][c]}
}

// Spacing returns the voxel size along each voxel axis (column norms of the linear part).
func (a Affine) Spacing() [3]float64 {
	var s [3]float64
	for c := 0; c < 3; c++ {
		s[c] = floats.Norm(a.Column(c), 2)
	}
	return s
}

// Shift returns the affine of a grid whose voxel (0,0,0) sits at voxel (i,j,k) of a.
func (a Affine) Shift(i, j, k float64) Affine {
	t := Identity()
	t[0][3], t[1][3], t[2][3] = i, j, k
	return a.Mul(t)
}

// ScaleColumns scales the linear part column-wise, keeping the translation.
func (a Affine) ScaleColumns(s [3]float64) Affine {
	out := a
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = a[r][c] * s[c]
		}
	}
	return out
}

// Equal reports whether every element differs by at most tol.
func (a Affine) Equal(b Affine, tol float64) bool {
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if math.Abs(a[r][c]-b[r][c]) > tol {
				return false
			}
		}
	}
	return true
}
