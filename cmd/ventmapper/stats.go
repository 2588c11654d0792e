package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ventmapper/internal/models"
	"ventmapper/pkg/interpolation"
	"ventmapper/pkg/nifti"
	"ventmapper/pkg/stats"
)

func newStatsCommand(a *app) *cobra.Command {
	var (
		ref     string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "stats <segmentation or subject dir>...",
		Short: "Summarise ventricle volumes as CSV",
		Long: "Count the segmented voxels and volume of each segmentation. Subject\n" +
			"directories are resolved to their default segmentation. With --ref, the\n" +
			"single segmentation is also compared against a reference mask.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ref != "" && len(args) != 1 {
				return fmt.Errorf("--ref needs exactly one segmentation")
			}
			var summaries []stats.Summary
			for _, arg := range args {
				id, path, err := segmentationPath(arg)
				if err != nil {
					return err
				}
				s, err := summarize(id, path, ref)
				if err != nil {
					return err
				}
				summaries = append(summaries, s)
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return stats.WriteCSV(w, summaries)
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "reference segmentation for Dice and Jaccard")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "CSV output file (default stdout)")
	return cmd
}

// segmentationPath maps an argument to a subject id and segmentation file.
func segmentationPath(arg string) (string, string, error) {
	info, err := os.Stat(arg)
	if err != nil {
		return "", "", err
	}
	if info.IsDir() {
		subj, err := models.Resolve(models.Query{SubjectDir: arg})
		if err != nil {
			return "", "", err
		}
		return subj.ID, subj.Output, nil
	}
	base := filepath.Base(arg)
	return strings.TrimSuffix(strings.TrimSuffix(base, ".gz"), ".nii"), arg, nil
}

func summarize(id, path, ref string) (stats.Summary, error) {
	seg, err := nifti.Read(path)
	if err != nil {
		return stats.Summary{}, err
	}
	s := stats.Summarize(id, seg)
	if ref == "" {
		return s, nil
	}
	refVol, err := nifti.Read(ref)
	if err != nil {
		return stats.Summary{}, err
	}
	if !refVol.SameGrid(seg) {
		if refVol, err = interpolation.ToReference(refVol, seg, interpolation.Nearest); err != nil {
			return stats.Summary{}, err
		}
	}
	s.Dice, s.Jaccard, err = stats.Overlap(seg, refVol)
	if err != nil {
		return stats.Summary{}, err
	}
	s.HasReference = true
	return s, nil
}
