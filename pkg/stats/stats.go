// Package stats summarises segmentations: ventricle volume per subject,
// overlap against a reference segmentation, and group statistics.
package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ventmapper/pkg/volume"
)

// Summary describes one segmentation.
type Summary struct {
	Subject string
	Voxels  int
	// VolumeMM3 is the segmented volume in cubic millimetres.
	VolumeMM3 float64
	// Overlap fields are set when a reference was given.
	HasReference bool
	Dice         float64
	Jaccard      float64
}

// VolumeML returns the segmented volume in millilitres.
func (s Summary) VolumeML() float64 {
	return s.VolumeMM3 / 1000
}

// Summarize counts the non-zero voxels of seg.
func Summarize(subject string, seg *volume.Volume) Summary {
	n := seg.CountNonZero()
	return Summary{Subject: subject, Voxels: n, VolumeMM3: float64(n) * seg.VoxelVolume()}
}

// Overlap returns the Dice and Jaccard coefficients of two masks on the same grid.
func Overlap(a, b *volume.Volume) (dice, jaccard float64, err error) {
	if !a.SameGrid(b) {
		return 0, 0, fmt.Errorf("masks are on different grids: %v vs %v", a.Dims, b.Dims)
	}
	inA := make([]float64, a.Len())
	inB := make([]float64, b.Len())
	both := make([]float64, a.Len())
	for i := range a.Data {
		if a.Data[i] != 0 {
			inA[i] = 1
		}
		if b.Data[i] != 0 {
			inB[i] = 1
		}
		both[i] = inA[i] * inB[i]
	}
	na, nb, inter := floats.Sum(inA), floats.Sum(inB), floats.Sum(both)
	if na+nb == 0 {
		return 1, 1, nil
	}
	return 2 * inter / (na + nb), inter / (na + nb - inter), nil
}

// Group holds the mean and standard deviation of the volumes of many subjects.
type Group struct {
	N         int
	MeanMM3   float64
	StdDevMM3 float64
}

// Aggregate computes group statistics over summaries.
func Aggregate(summaries []Summary) Group {
	vols := make([]float64, len(summaries))
	for i, s := range summaries {
		vols[i] = s.VolumeMM3
	}
	g := Group{N: len(vols)}
	switch len(vols) {
	case 0:
	case 1:
		g.MeanMM3 = vols[0]
	default:
		g.MeanMM3, g.StdDevMM3 = stat.MeanStdDev(vols, nil)
	}
	return g
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}

// WriteCSV writes one row per summary followed by mean and std rows.
func WriteCSV(w io.Writer, summaries []Summary) error {
	cw := csv.NewWriter(w)
	withRef := false
	for _, s := range summaries {
		withRef = withRef || s.HasReference
	}

	header := []string{"subject", "voxels", "volume_mm3", "volume_ml"}
	if withRef {
		header = append(header, "dice", "jaccard")
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, s := range summaries {
		row := []string{s.Subject, strconv.Itoa(s.Voxels), ftoa(s.VolumeMM3), ftoa(s.VolumeML())}
		if withRef {
			if s.HasReference {
				row = append(row, ftoa(s.Dice), ftoa(s.Jaccard))
			} else {
				row = append(row, "", "")
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	if len(summaries) > 1 {
		g := Aggregate(summaries)
		pad := make([]string, len(header)-4)
		for _, row := range [][]string{
			append([]string{"mean", "", ftoa(g.MeanMM3), ftoa(g.MeanMM3 / 1000)}, pad...),
			append([]string{"std", "", ftoa(g.StdDevMM3), ftoa(g.StdDevMM3 / 1000)}, pad...),
		} {
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
