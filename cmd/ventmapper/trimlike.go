package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ventmapper/pkg/interpolation"
	"ventmapper/pkg/nifti"
)

func newTrimLikeCommand(a *app) *cobra.Command {
	var (
		interp string
		label  bool
	)
	cmd := &cobra.Command{
		Use:   "trim-like <image> <reference> <output>",
		Short: "Reslice an image onto the grid of a reference image",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if label {
				interp = "nearest"
			}
			m, err := interpolation.ParseMethod(interp)
			if err != nil {
				return err
			}
			img, err := nifti.Read(args[0])
			if err != nil {
				return err
			}
			ref, err := nifti.Read(args[1])
			if err != nil {
				return err
			}
			b, err := a.newBackend()
			if err != nil {
				return err
			}
			out, err := b.TrimLike(cmd.Context(), img, ref, m)
			if err != nil {
				return err
			}
			if err := nifti.Write(args[2], out); err != nil {
				return err
			}
			a.logger.Info("resliced image",
				zap.String("input", args[0]),
				zap.String("reference", args[1]),
				zap.String("output", args[2]),
				zap.String("interpolation", m.String()),
				zap.String("backend", b.Name()))
			return nil
		},
	}
	cmd.Flags().StringVar(&interp, "interpolation", "linear", "interpolation (nearest or linear)")
	cmd.Flags().BoolVar(&label, "label", false, "input is a label map (implies nearest)")
	return cmd
}
