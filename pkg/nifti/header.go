// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and .nii.gz).
//
// Based on the nifti1 header definition,
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
package nifti

import (
	"math"

	"ventmapper/pkg/volume"
)

// Header is the 348-byte NIfTI-1 header.
type Header struct {
	SizeofHdr      int32    // Must be 348
	DataTypeUnused [10]byte // Unused
	DbName         [18]byte // Unused
	Extents        int32    // Unused
	SessionError   int16    // Unused
	Regular        byte     // Unused
	DimInfo        byte     // MRI slice ordering
	Dim            [8]int16 // Data array dimensions
	IntentP1       float32
	IntentP2       float32
	IntentP3       float32
	IntentCode     int16
	Datatype       int16 // Defines data type
	Bitpix         int16 // Number bits/voxel
	SliceStart     int16
	Pixdim         [8]float32 // Grid spacing, pixdim[0] is qfac
	VoxOffset      float32    // Offset into .nii file
	SclSlope       float32    // Data scaling: slope
	SclInter       float32    // Data scaling: offset
	SliceEnd       int16
	SliceCode      int8
	XyztUnits      int8
	CalMax         float32
	CalMin         float32
	SliceDuration  float32
	Toffset        float32
	Glmax          int32
	Glmin          int32
	Descrip        [80]byte
	AuxFile        [24]byte
	QformCode      int16
	SformCode      int16
	QuaternB       float32
	QuaternC       float32
	QuaternD       float32
	QoffsetX       float32
	QoffsetY       float32
	QoffsetZ       float32
	SrowX          [4]float32
	SrowY          [4]float32
	SrowZ          [4]float32
	IntentName     [16]byte
	Magic          [4]byte // "n+1\0" for single-file images
}

const (
	headerSize    = 348
	dataOffset    = 352
	singleMagic   = "n+1\x00"
	unitsMMSecond = 2 | 8
)

// Voxel datatype codes.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
)

func bitsPerVoxel(dt int16) int16 {
	switch dt {
	case DTUint8, DTInt8:
		return 8
	case DTInt16, DTUint16:
		return 16
	case DTInt32, DTUint32, DTFloat32:
		return 32
	case DTFloat64:
		return 64
	}
	return 0
}

// Affine returns the voxel-to-world transform using the sform when present,
// then the qform, then the bare pixel spacing.
func (h *Header) Affine() volume.Affine {
	if h.SformCode > 0 {
		a := volume.Identity()
		for c := 0; c < 4; c++ {
			a[0][c] = float64(h.SrowX[c])
			a[1][c] = float64(h.SrowY[c])
			a[2][c] = float64(h.SrowZ[c])
		}
		return a
	}
	if h.QformCode > 0 {
		return h.quaternAffine()
	}
	return volume.Diagonal(positive(h.Pixdim[1]), positive(h.Pixdim[2]), positive(h.Pixdim[3]))
}

func positive(v float32) float64 {
	if v > 0 {
		return float64(v)
	}
	return 1
}

func (h *Header) quaternAffine() volume.Affine {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		a = 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*a, c*a, d*a
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	xd, yd, zd := positive(h.Pixdim[1]), positive(h.Pixdim[2]), positive(h.Pixdim[3])
	if h.Pixdim[0] < 0 {
		zd = -zd
	}

	m := volume.Identity()
	m[0][0] = (a*a + b*b - c*c - d*d) * xd
	m[0][1] = 2 * (b*c - a*d) * yd
	m[0][2] = 2 * (b*d + a*c) * zd
	m[1][0] = 2 * (b*c + a*d) * xd
	m[1][1] = (a*a + c*c - b*b - d*d) * yd
	m[1][2] = 2 * (c*d - a*b) * zd
	m[2][0] = 2 * (b*d - a*c) * xd
	m[2][1] = 2 * (c*d + a*b) * yd
	m[2][2] = (a*a + d*d - c*c - b*b) * zd
	m[0][3] = float64(h.QoffsetX)
	m[1][3] = float64(h.QoffsetY)
	m[2][3] = float64(h.QoffsetZ)
	return m
}

// setAffine stores aff in both the sform rows and the quaternion fields.
func (h *Header) setAffine(aff volume.Affine) {
	for c := 0; c < 4; c++ {
		h.SrowX[c] = float32(aff[0][c])
		h.SrowY[c] = float32(aff[1][c])
		h.SrowZ[c] = float32(aff[2][c])
	}

	sp := aff.Spacing()
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if sp[j] > 0 {
				r[i][j] = aff[i][j] / sp[j]
			}
		}
	}
	for j := 0; j < 3; j++ {
		if sp[j] == 0 {
			r[j][j] = 1
			sp[j] = 1
		}
	}

	qfac := float32(1)
	det := r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
	if det < 0 {
		qfac = -1
		r[0][2], r[1][2], r[2][2] = -r[0][2], -r[1][2], -r[2][2]
	}

	var a, b, c, d float64
	trace := r[0][0] + r[1][1] + r[2][2] + 1
	if trace > 0.5 {
		a = 0.5 * math.Sqrt(trace)
		b = 0.25 * (r[2][1] - r[1][2]) / a
		c = 0.25 * (r[0][2] - r[2][0]) / a
		d = 0.25 * (r[1][0] - r[0][1]) / a
	} else {
		xd := 1 + r[0][0] - (r[1][1] + r[2][2])
		yd := 1 + r[1][1] - (r[0][0] + r[2][2])
		zd := 1 + r[2][2] - (r[0][0] + r[1][1])
		switch {
		case xd > 1:
			b = 0.5 * math.Sqrt(xd)
			c = 0.25 * (r[0][1] + r[1][0]) / b
			d = 0.25 * (r[0][2] + r[2][0]) / b
			a = 0.25 * (r[2][1] - r[1][2]) / b
		case yd > 1:
			c = 0.5 * math.Sqrt(yd)
			b = 0.25 * (r[0][1] + r[1][0]) / c
			d = 0.25 * (r[1][2] + r[2][1]) / c
			a = 0.25 * (r[0][2] - r[2][0]) / c
		default:
			d = 0.5 * math.Sqrt(zd)
			b = 0.25 * (r[0][2] + r[2][0]) / d
			c = 0.25 * (r[1][2] + r[2][1]) / d
			a = 0.25 * (r[1][0] - r[0][1]) / d
		}
		if a < 0 {
			b, c, d = -b, -c, -d
		}
	}

	h.QuaternB, h.QuaternC, h.QuaternD = float32(b), float32(c), float32(d)
	h.QoffsetX, h.QoffsetY, h.QoffsetZ = float32(aff[0][3]), float32(aff[1][3]), float32(aff[2][3])
	h.Pixdim[0] = qfac
	h.Pixdim[1], h.Pixdim[2], h.Pixdim[3] = float32(sp[0]), float32(sp[1]), float32(sp[2])
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
