// Package volume provides the in-memory representation of a 3D image together
// with the affine transform that places its voxel grid in scanner space.
package volume

import (
	"fmt"
)

// GridTolerance is the largest per-element affine difference still treated as the same grid.
const GridTolerance = 1e-4

// Meta carries header fields that have no geometric meaning but must survive a
// round trip through the pipeline so outputs can be re-embedded in the header
// of their reference image.
type Meta struct {
	// Description is the free-text descrip field of the header.
	Description string

	// QformCode and SformCode are the NIfTI xform codes of the source image.
	QformCode int16
	SformCode int16

	// XYZTUnits are the spatial/temporal units of the source image.
	XYZTUnits int8

	// Datatype is the on-disk voxel type to use when the volume is written.
	// Zero lets the writer choose float32.
	Datatype int16
}

// Volume is a 3D array of scalar intensities stored in row-major order with x
// varying fastest: idx = z*nx*ny + y*nx + x.
type Volume struct {
	// Data holds nx*ny*nz intensities.
	Data []float64

	// Dims are the grid dimensions (nx, ny, nz).
	Dims [3]int

	// Affine maps voxel indices to physical coordinates.
	Affine Affine

	// Meta carries header fields from the source image.
	Meta Meta
}

// New allocates a zero-filled volume on the given grid.
func New(dims [3]int, affine Affine) (*Volume, error) {
	v := &Volume{Dims: dims, Affine: affine}
	if dims[0] <= 0 || dims[1] <= 0 || dims[2] <= 0 {
		return nil, fmt.Errorf("invalid dimensions %v", dims)
	}
	v.Data = make([]float64, dims[0]*dims[1]*dims[2])
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// Validate checks that the data length agrees with the dimensions and that the
// affine is invertible.
func (v *Volume) Validate() error {
	for _, d := range v.Dims {
		if d <= 0 {
			return fmt.Errorf("invalid dimensions %v", v.Dims)
		}
	}
	n := v.Dims[0] * v.Dims[1] * v.Dims[2]
	if len(v.Data) != n {
		return fmt.Errorf("data length %d does not match dimensions %v", len(v.Data), v.Dims)
	}
	if v.Affine.Det() == 0 {
		return ErrSingularAffine
	}
	return nil
}

// Len returns the number of voxels.
func (v *Volume) Len() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

// Index returns the flat index of voxel (x, y, z).
func (v *Volume) Index(x, y, z int) int {
	return z*v.Dims[0]*v.Dims[1] + y*v.Dims[0] + x
}

// Coords returns the voxel coordinates of flat index idx.
func (v *Volume) Coords(idx int) (x, y, z int) {
	plane := v.Dims[0] * v.Dims[1]
	z = idx / plane
	rem := idx - z*plane
	y = rem / v.Dims[0]
	x = rem - y*v.Dims[0]
	return x, y, z
}

// InBounds reports whether (x, y, z) lies on the grid.
func (v *Volume) InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.Dims[0] && y < v.Dims[1] && z < v.Dims[2]
}

// At returns the intensity at voxel (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores an intensity at voxel (x, y, z).
func (v *Volume) Set(x, y, z int, val float64) {
	v.Data[v.Index(x, y, z)] = val
}

// Spacing returns the voxel size derived from the affine.
func (v *Volume) Spacing() [3]float64 {
	return v.Affine.Spacing()
}

// VoxelVolume returns the physical volume of one voxel in cubic millimetres.
func (v *Volume) VoxelVolume() float64 {
	d := v.Affine.Det()
	if d < 0 {
		return -d
	}
	return d
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	out := *v
	out.Data = make([]float64, len(v.Data))
	copy(out.Data, v.Data)
	return &out
}

// Like returns a volume on the same grid and header holding data.
func (v *Volume) Like(data []float64) (*Volume, error) {
	out := &Volume{Data: data, Dims: v.Dims, Affine: v.Affine, Meta: v.Meta}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// SameGrid reports whether o shares v's dimensions and affine.
func (v *Volume) SameGrid(o *Volume) bool {
	return v.Dims == o.Dims && v.Affine.Equal(o.Affine, GridTolerance)
}

// CountNonZero returns the number of voxels with a non-zero value.
func (v *Volume) CountNonZero() int {
	n := 0
	for _, val := range v.Data {
		if val != 0 {
			n++
		}
	}
	return n
}
