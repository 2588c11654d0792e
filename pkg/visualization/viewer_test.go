package visualization

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"ventmapper/internal/testutil"
	"ventmapper/pkg/volume"
)

func anatomy(t *testing.T) *volume.Volume {
	t.Helper()
	v := testutil.NewVolume(t, [3]int{20, 16, 12}, volume.Identity())
	for z := 0; z < 12; z++ {
		for y := 0; y < 16; y++ {
			for x := 0; x < 20; x++ {
				v.Set(x, y, z, float64(x+1))
			}
		}
	}
	return v
}

// TestExtractSlice verifies slice geometry and the intensity window
func TestExtractSlice(t *testing.T) {
	viewer := NewViewer(anatomy(t))

	img, err := viewer.ExtractSlice("z", 3)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 20 || b.Dy() != 16 {
		t.Errorf("Expected 20x16 slice, got %dx%d", b.Dx(), b.Dy())
	}
	if img.GrayAt(0, 0).Y != 0 {
		t.Errorf("Expected darkest pixel at x=0, got %d", img.GrayAt(0, 0).Y)
	}
	if img.GrayAt(19, 0).Y != 255 {
		t.Errorf("Expected brightest pixel at x=19, got %d", img.GrayAt(19, 0).Y)
	}

	sagittal, err := viewer.ExtractSlice("X", 5)
	if err != nil {
		t.Fatalf("Failed to extract sagittal slice: %v", err)
	}
	if b := sagittal.Bounds(); b.Dx() != 16 || b.Dy() != 12 {
		t.Errorf("Expected 16x12 slice, got %dx%d", b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("w", 0); err == nil {
		t.Error("Expected error for invalid axis")
	}
	if _, err := viewer.ExtractSlice("z", 12); err == nil {
		t.Error("Expected error for position outside the volume")
	}
}

// TestOverlayMarksSegmentation verifies that segmented voxels are tinted
func TestOverlayMarksSegmentation(t *testing.T) {
	vol := anatomy(t)
	seg := testutil.NewVolume(t, vol.Dims, vol.Affine)
	seg.Set(10, 15, 6, 1) // top row after the vertical flip

	img, err := NewViewer(vol).Overlay(seg, "z", 6, 0.5)
	if err != nil {
		t.Fatalf("Failed to overlay: %v", err)
	}
	c := img.RGBAAt(10, 0)
	if c.R <= c.G {
		t.Errorf("Expected red tint at the segmented voxel, got %+v", c)
	}
	plain := img.RGBAAt(11, 0)
	if plain.R != plain.G {
		t.Errorf("Expected gray pixel outside the segmentation, got %+v", plain)
	}

	wrong := testutil.NewVolume(t, [3]int{2, 2, 2}, vol.Affine)
	if _, err := NewViewer(vol).Overlay(wrong, "z", 0, 0.5); err == nil {
		t.Error("Expected error for mismatched overlay")
	}
}

// TestWriteMosaic verifies mosaic layout and PNG output
func TestWriteMosaic(t *testing.T) {
	vol := anatomy(t)
	seg := testutil.Sphere(t, vol.Dims, vol.Affine, [3]float64{10, 8, 6}, 2, 1)

	opts := DefaultMosaicOptions()
	opts.TileSize = 32
	opts.Columns = 3
	img, err := NewViewer(vol).Mosaic(seg, opts)
	if err != nil {
		t.Fatalf("Failed to build mosaic: %v", err)
	}
	// segmented slices 4..8 widened by 4 -> 0..11 stepping by 2 -> 6 tiles
	if b := img.Bounds(); b.Dx() != 96 || b.Dy() != 64 {
		t.Errorf("Expected 96x64 mosaic, got %dx%d", b.Dx(), b.Dy())
	}

	path := filepath.Join(t.TempDir(), "qc", "sub01_qc.png")
	if err := WriteMosaic(vol, seg, path); err != nil {
		t.Fatalf("Failed to write mosaic: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open mosaic: %v", err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("Mosaic is not a valid PNG: %v", err)
	}
}
