// Package testutil builds synthetic volumes for package tests.
package testutil

import (
	"testing"

	"ventmapper/pkg/volume"
)

// NewVolume allocates a zero volume or fails the test.
func NewVolume(t testing.TB, dims [3]int, affine volume.Affine) *volume.Volume {
	t.Helper()
	v, err := volume.New(dims, affine)
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}
	return v
}

// Sphere returns a volume with value inside the ball of the given radius
// (in voxels) around center and zero elsewhere.
func Sphere(t testing.TB, dims [3]int, affine volume.Affine, center [3]float64, radius, value float64) *volume.Volume {
	t.Helper()
	v := NewVolume(t, dims, affine)
	AddSphere(v, center, radius, value)
	return v
}

// AddSphere sets every voxel within radius of center to value.
func AddSphere(v *volume.Volume, center [3]float64, radius, value float64) {
	r2 := radius * radius
	for z := 0; z < v.Dims[2]; z++ {
		for y := 0; y < v.Dims[1]; y++ {
			for x := 0; x < v.Dims[0]; x++ {
				dx := float64(x) - center[0]
				dy := float64(y) - center[1]
				dz := float64(z) - center[2]
				if dx*dx+dy*dy+dz*dz <= r2 {
					v.Set(x, y, z, value)
				}
			}
		}
	}
}

// AddBox sets every voxel in [lo, hi] (inclusive) to value.
func AddBox(v *volume.Volume, lo, hi [3]int, value float64) {
	for z := lo[2]; z <= hi[2]; z++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for x := lo[0]; x <= hi[0]; x++ {
				v.Set(x, y, z, value)
			}
		}
	}
}

// Ramp returns a volume whose intensity increases linearly with x+y+z.
func Ramp(t testing.TB, dims [3]int, affine volume.Affine) *volume.Volume {
	t.Helper()
	v := NewVolume(t, dims, affine)
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				v.Set(x, y, z, float64(x+y+z))
			}
		}
	}
	return v
}
