package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ventmapper/internal/models"
	"ventmapper/pkg/metrics"
	"ventmapper/pkg/segmentation"
)

func newSegCommand(a *app) *cobra.Command {
	var (
		q     models.Query
		force bool
	)
	cmd := &cobra.Command{
		Use:   "seg",
		Short: "Segment the ventricles of one subject",
		Long: "Segment the ventricles of one subject.\n\n" +
			"Either --subj or --t1 must be given. With --subj the inputs default to\n" +
			"<subj>/<subj>_T1_nu.nii.gz, <subj>_T1acq_nu_FL.nii.gz, <subj>_T1acq_nu_T2.nii.gz\n" +
			"and the mask <subj>_T1acq_nu_HfB_pred.nii.gz.",
		Example: "  ventmapper seg -s sub01\n  ventmapper seg --t1 t1.nii.gz --fl flair.nii.gz -m mask.nii.gz -o vent.nii.gz",
		RunE: func(cmd *cobra.Command, args []string) error {
			subj, err := models.Resolve(q)
			if err != nil {
				return err
			}
			factory, err := a.factory(force)
			if err != nil {
				return err
			}
			seg, err := factory()
			if err != nil {
				return err
			}
			res, err := seg.Process(cmd.Context(), subj)
			if err != nil {
				a.metrics.Subject(metrics.StatusFailed)
				return fmt.Errorf("subject %s: %w", subj.ID, err)
			}
			if res.Skipped {
				a.metrics.Subject(metrics.StatusSkipped)
			} else {
				a.metrics.Subject(metrics.StatusDone)
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	addSubjectFlags(cmd, &q)
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing segmentation and intermediates")
	return cmd
}

func addSubjectFlags(cmd *cobra.Command, q *models.Query) {
	f := cmd.Flags()
	f.StringVarP(&q.SubjectDir, "subj", "s", "", "subject directory")
	f.StringVar(&q.Session, "session", "", "session suffix for longitudinal studies")
	f.StringVar(&q.T1, "t1", "", "T1-weighted image")
	f.StringVar(&q.FLAIR, "fl", "", "FLAIR image")
	f.StringVar(&q.T2, "t2", "", "T2-weighted image")
	f.StringVarP(&q.Mask, "mask", "m", "", "brain mask")
	f.StringVarP(&q.Output, "out", "o", "", "output segmentation")
}

func printResult(w io.Writer, res *segmentation.Result) {
	if res.Skipped {
		fmt.Fprintf(w, "%s: segmentation already exists at %s (use --force to recompute)\n", res.Subject, res.Output)
		return
	}
	fmt.Fprintf(w, "%s: %s segmentation with %d voxels saved to %s (%.1fs)\n",
		res.Subject, res.Variant, res.Voxels, res.Output, res.Elapsed.Seconds())
	if res.StdOrientOutput != "" {
		fmt.Fprintf(w, "  standard orientation: %s\n", res.StdOrientOutput)
	}
	if res.QCImage != "" {
		fmt.Fprintf(w, "  qc image: %s\n", res.QCImage)
	}
}
