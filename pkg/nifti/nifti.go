package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"ventmapper/pkg/volume"
)

// IsGzip reports whether path names a gzip-compressed image.
func IsGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// Read loads a 3D NIfTI-1 image from path. A 4D image is accepted only when
// its fourth dimension is 1.
func Read(path string) (*volume.Volume, error) {
	raw, err := readAll(path)
	if err != nil {
		return nil, err
	}
	v, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return v, nil
}

// ReadHeader loads only the header of the image at path.
func ReadHeader(path string) (*Header, error) {
	raw, err := readAll(path)
	if err != nil {
		return nil, err
	}
	h, _, err := decodeHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return h, nil
}

func readAll(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if IsGzip(path) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, nil
}

func decodeHeader(raw []byte) (*Header, binary.ByteOrder, error) {
	if len(raw) < headerSize {
		return nil, nil, fmt.Errorf("file has %d bytes, shorter than the %d-byte header", len(raw), headerSize)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if binary.LittleEndian.Uint32(raw[:4]) != headerSize {
		order = binary.BigEndian
		if binary.BigEndian.Uint32(raw[:4]) != headerSize {
			return nil, nil, fmt.Errorf("invalid header size, not a NIfTI-1 file")
		}
	}

	h := &Header{}
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, h); err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if string(h.Magic[:]) != singleMagic {
		return nil, nil, fmt.Errorf("invalid magic %q, data must be stored in the same file as the header", h.Magic[:3])
	}
	if h.Dim[0] < 3 || h.Dim[0] > 7 {
		return nil, nil, fmt.Errorf("dim[0]=%d is not in range [3, 7]", h.Dim[0])
	}
	for i := 1; i <= 3; i++ {
		if h.Dim[i] < 1 {
			return nil, nil, fmt.Errorf("dim[%d]=%d must be positive", i, h.Dim[i])
		}
	}
	for i := 4; i <= int(h.Dim[0]); i++ {
		if h.Dim[i] > 1 {
			return nil, nil, fmt.Errorf("only 3D images are supported, got dim[%d]=%d", i, h.Dim[i])
		}
	}
	return h, order, nil
}

// Decode parses a complete uncompressed NIfTI-1 file.
func Decode(raw []byte) (*volume.Volume, error) {
	h, order, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}

	dims := [3]int{int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3])}
	n := dims[0] * dims[1] * dims[2]
	bpv := int(bitsPerVoxel(h.Datatype)) / 8
	if bpv == 0 {
		return nil, fmt.Errorf("unsupported datatype %d", h.Datatype)
	}

	offset := int(h.VoxOffset)
	if offset < dataOffset {
		offset = dataOffset
	}
	if len(raw) < offset+n*bpv {
		return nil, fmt.Errorf("file has fewer bytes than the %d voxels require", n)
	}

	data := make([]float64, n)
	buf := raw[offset:]
	for i := 0; i < n; i++ {
		b := buf[i*bpv : (i+1)*bpv]
		switch h.Datatype {
		case DTUint8:
			data[i] = float64(b[0])
		case DTInt8:
			data[i] = float64(int8(b[0]))
		case DTInt16:
			data[i] = float64(int16(order.Uint16(b)))
		case DTUint16:
			data[i] = float64(order.Uint16(b))
		case DTInt32:
			data[i] = float64(int32(order.Uint32(b)))
		case DTUint32:
			data[i] = float64(order.Uint32(b))
		case DTFloat32:
			data[i] = float64(math.Float32frombits(order.Uint32(b)))
		case DTFloat64:
			data[i] = math.Float64frombits(order.Uint64(b))
		}
	}

	if h.SclSlope != 0 && !(h.SclSlope == 1 && h.SclInter == 0) {
		m, c := float64(h.SclSlope), float64(h.SclInter)
		for i := range data {
			data[i] = m*data[i] + c
		}
	}

	v := &volume.Volume{
		Data:   data,
		Dims:   dims,
		Affine: h.Affine(),
		Meta: volume.Meta{
			Description: cString(h.Descrip[:]),
			QformCode:   h.QformCode,
			SformCode:   h.SformCode,
			XYZTUnits:   h.XyztUnits,
			Datatype:    h.Datatype,
		},
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// Encode serialises v as an uncompressed single-file NIfTI-1 image.
func Encode(v *volume.Volume) ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	dt := v.Meta.Datatype
	if bitsPerVoxel(dt) == 0 {
		dt = DTFloat32
	}

	h := Header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Datatype:  dt,
		Bitpix:    bitsPerVoxel(dt),
		VoxOffset: dataOffset,
		SclSlope:  1,
		QformCode: v.Meta.QformCode,
		SformCode: v.Meta.SformCode,
		XyztUnits: v.Meta.XYZTUnits,
	}
	if h.QformCode <= 0 && h.SformCode <= 0 {
		h.QformCode, h.SformCode = 1, 1
	}
	if h.XyztUnits == 0 {
		h.XyztUnits = unitsMMSecond
	}
	for i, d := range v.Dims {
		if d > math.MaxInt16 {
			return nil, fmt.Errorf("dimension %d of size %d does not fit a NIfTI-1 header", i, d)
		}
	}
	h.Dim = [8]int16{3, int16(v.Dims[0]), int16(v.Dims[1]), int16(v.Dims[2]), 1, 1, 1, 1}
	h.Pixdim = [8]float32{1, 1, 1, 1, 1, 1, 1, 1}
	h.setAffine(v.Affine)
	copy(h.Descrip[:len(h.Descrip)-1], v.Meta.Description)
	copy(h.Magic[:], singleMagic)

	var buf bytes.Buffer
	buf.Grow(dataOffset + v.Len()*int(h.Bitpix)/8)
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	buf.Write([]byte{0, 0, 0, 0})

	scratch := make([]byte, 8)
	for _, val := range v.Data {
		switch dt {
		case DTUint8:
			buf.WriteByte(uint8(clamp(math.Round(val), 0, math.MaxUint8)))
		case DTInt8:
			buf.WriteByte(byte(int8(clamp(math.Round(val), math.MinInt8, math.MaxInt8))))
		case DTInt16:
			binary.LittleEndian.PutUint16(scratch, uint16(int16(clamp(math.Round(val), math.MinInt16, math.MaxInt16))))
			buf.Write(scratch[:2])
		case DTUint16:
			binary.LittleEndian.PutUint16(scratch, uint16(clamp(math.Round(val), 0, math.MaxUint16)))
			buf.Write(scratch[:2])
		case DTInt32:
			binary.LittleEndian.PutUint32(scratch, uint32(int32(clamp(math.Round(val), math.MinInt32, math.MaxInt32))))
			buf.Write(scratch[:4])
		case DTUint32:
			binary.LittleEndian.PutUint32(scratch, uint32(clamp(math.Round(val), 0, math.MaxUint32)))
			buf.Write(scratch[:4])
		case DTFloat32:
			binary.LittleEndian.PutUint32(scratch, math.Float32bits(float32(val)))
			buf.Write(scratch[:4])
		case DTFloat64:
			binary.LittleEndian.PutUint64(scratch, math.Float64bits(val))
			buf.Write(scratch[:8])
		}
	}
	return buf.Bytes(), nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}

// Write stores v at path, gzip-compressing when the name ends in .gz. The file
// is written under a temporary name and renamed so a partial image never
// appears at path.
func Write(path string, v *volume.Volume) error {
	raw, err := Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if IsGzip(path) {
		gz, err := gzip.NewWriterLevel(tmp, gzip.BestSpeed)
		if err != nil {
			tmp.Close()
			return err
		}
		if _, err := gz.Write(raw); err != nil {
			tmp.Close()
			return fmt.Errorf("compress %s: %w", path, err)
		}
		if err := gz.Close(); err != nil {
			tmp.Close()
			return fmt.Errorf("compress %s: %w", path, err)
		}
	} else if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
