// Package visualization renders quality-control images of a segmentation
// drawn over its anatomical scan.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/stat"

	"ventmapper/pkg/volume"
)

// Viewer extracts display slices from a volume with a robust intensity window.
type Viewer struct {
	vol *volume.Volume

	// intensity window mapped to black..white
	lo, hi float64
}

// NewViewer creates a viewer whose window spans the 1st to 99th percentile
// of the non-zero intensities.
func NewViewer(v *volume.Volume) *Viewer {
	var vals []float64
	for _, x := range v.Data {
		if x != 0 && !math.IsNaN(x) {
			vals = append(vals, x)
		}
	}
	viewer := &Viewer{vol: v, lo: 0, hi: 1}
	if len(vals) == 0 {
		return viewer
	}
	sort.Float64s(vals)
	viewer.lo = stat.Quantile(0.01, stat.Empirical, vals, nil)
	viewer.hi = stat.Quantile(0.99, stat.Empirical, vals, nil)
	if viewer.hi <= viewer.lo {
		viewer.lo, viewer.hi = vals[0], vals[len(vals)-1]
	}
	if viewer.hi <= viewer.lo {
		viewer.hi = viewer.lo + 1
	}
	return viewer
}

// axisIndex maps an axis name to 0, 1 or 2.
func axisIndex(axis string) (int, error) {
	switch strings.ToLower(axis) {
	case "x":
		return 0, nil
	case "y":
		return 1, nil
	case "z":
		return 2, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// planeAxes returns the voxel axes shown horizontally and vertically for a
// slice perpendicular to axis.
func planeAxes(axis int) (int, int) {
	switch axis {
	case 0:
		return 1, 2
	case 1:
		return 0, 2
	default:
		return 0, 1
	}
}

// voxel returns the voxel coordinate shown at pixel (col, row) of slice pos.
// Rows run from the top of the image, i.e. from the last index downwards.
func voxel(dims [3]int, axis, pos, col, row int) (int, int, int) {
	h, vert := planeAxes(axis)
	var c [3]int
	c[axis] = pos
	c[h] = col
	c[vert] = dims[vert] - 1 - row
	return c[0], c[1], c[2]
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray, error) {
	a, err := axisIndex(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= v.vol.Dims[a] {
		return nil, fmt.Errorf("position %d outside [0,%d) along %s", position, v.vol.Dims[a], axis)
	}
	h, vert := planeAxes(a)
	w, ht := v.vol.Dims[h], v.vol.Dims[vert]

	img := image.NewGray(image.Rect(0, 0, w, ht))
	for row := 0; row < ht; row++ {
		for col := 0; col < w; col++ {
			x, y, z := voxel(v.vol.Dims, a, position, col, row)
			g := (v.vol.At(x, y, z) - v.lo) / (v.hi - v.lo)
			g = math.Max(0, math.Min(1, g))
			img.SetGray(col, row, color.Gray{Y: uint8(math.Round(g * 255))})
		}
	}
	return img, nil
}

// overlayColor is the segmentation colour blended over the anatomy.
var overlayColor = color.RGBA{R: 255, G: 40, B: 40, A: 255}

// Overlay draws the non-zero voxels of mask over slice position of the viewer's volume.
func (v *Viewer) Overlay(mask *volume.Volume, axis string, position int, alpha float64) (*image.RGBA, error) {
	if mask.Dims != v.vol.Dims {
		return nil, fmt.Errorf("overlay dimensions %v do not match image %v", mask.Dims, v.vol.Dims)
	}
	base, err := v.ExtractSlice(axis, position)
	if err != nil {
		return nil, err
	}
	a, _ := axisIndex(axis)
	b := base.Bounds()
	out := image.NewRGBA(b)
	for row := 0; row < b.Dy(); row++ {
		for col := 0; col < b.Dx(); col++ {
			g := float64(base.GrayAt(col, row).Y)
			c := color.RGBA{R: uint8(g), G: uint8(g), B: uint8(g), A: 255}
			x, y, z := voxel(v.vol.Dims, a, position, col, row)
			if mask.At(x, y, z) != 0 {
				c.R = uint8((1-alpha)*g + alpha*float64(overlayColor.R))
				c.G = uint8((1-alpha)*g + alpha*float64(overlayColor.G))
				c.B = uint8((1-alpha)*g + alpha*float64(overlayColor.B))
			}
			out.SetRGBA(col, row, c)
		}
	}
	return out, nil
}

// MosaicOptions controls the QC mosaic layout.
type MosaicOptions struct {
	// Axis slices are taken perpendicular to.
	Axis string
	// Gap is the slice step between tiles.
	Gap int
	// Margin extends the slice range beyond the segmented slices.
	Margin int
	// Columns per mosaic row.
	Columns int
	// TileSize is the edge length every tile is scaled to.
	TileSize int
	// Alpha is the overlay opacity.
	Alpha float64
}

// DefaultMosaicOptions returns the standard QC layout.
func DefaultMosaicOptions() MosaicOptions {
	return MosaicOptions{Axis: "z", Gap: 2, Margin: 4, Columns: 8, TileSize: 128, Alpha: 0.5}
}

// sliceRange returns the slices along axis that hold mask voxels, or every
// slice when the mask is empty.
func sliceRange(mask *volume.Volume, axis int) (int, int) {
	lo, hi := mask.Dims[axis], -1
	for idx, val := range mask.Data {
		if val == 0 {
			continue
		}
		x, y, z := mask.Coords(idx)
		c := [3]int{x, y, z}[axis]
		lo, hi = min(lo, c), max(hi, c)
	}
	if hi < 0 {
		return 0, mask.Dims[axis] - 1
	}
	return lo, hi
}

// Mosaic tiles overlaid slices covering the segmented range.
func (v *Viewer) Mosaic(mask *volume.Volume, opts MosaicOptions) (*image.RGBA, error) {
	a, err := axisIndex(opts.Axis)
	if err != nil {
		return nil, err
	}
	if opts.Gap < 1 || opts.Columns < 1 || opts.TileSize < 1 {
		return nil, fmt.Errorf("invalid mosaic options %+v", opts)
	}
	lo, hi := sliceRange(mask, a)
	lo = max(lo-opts.Margin, 0)
	hi = min(hi+opts.Margin, v.vol.Dims[a]-1)

	var positions []int
	for p := lo; p <= hi; p += opts.Gap {
		positions = append(positions, p)
	}
	cols := min(opts.Columns, len(positions))
	rows := (len(positions) + cols - 1) / cols

	out := image.NewRGBA(image.Rect(0, 0, cols*opts.TileSize, rows*opts.TileSize))
	draw.Draw(out, out.Bounds(), image.Black, image.Point{}, draw.Src)
	for i, p := range positions {
		tile, err := v.Overlay(mask, opts.Axis, p, opts.Alpha)
		if err != nil {
			return nil, err
		}
		r := image.Rect(0, 0, opts.TileSize, opts.TileSize).
			Add(image.Pt((i%cols)*opts.TileSize, (i/cols)*opts.TileSize))
		draw.CatmullRom.Scale(out, r, tile, tile.Bounds(), draw.Src, nil)
	}
	return out, nil
}

// SaveImage writes img as PNG, or JPEG when the file name ends in .jpg/.jpeg.
func SaveImage(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(file, img)
	}
}

// WriteMosaic renders the default mosaic of seg over anatomy into filename.
func WriteMosaic(anatomy, seg *volume.Volume, filename string) error {
	img, err := NewViewer(anatomy).Mosaic(seg, DefaultMosaicOptions())
	if err != nil {
		return fmt.Errorf("render qc mosaic: %w", err)
	}
	if err := SaveImage(img, filename); err != nil {
		return fmt.Errorf("save qc mosaic: %w", err)
	}
	return nil
}
