package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ventmapper/internal/models"
	"ventmapper/pkg/metrics"
	"ventmapper/pkg/segmentation"
)

func newBatchCommand(a *app) *cobra.Command {
	var (
		list    string
		session string
		workers int
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "batch [subject dirs...]",
		Short: "Segment many subjects concurrently",
		Long: "Segment every subject directory given as an argument or listed (one per line)\n" +
			"in --list. A failing subject is reported and does not stop the others.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := args
			if list != "" {
				listed, err := readList(list)
				if err != nil {
					return err
				}
				dirs = append(dirs, listed...)
			}
			if len(dirs) == 0 {
				return fmt.Errorf("no subjects given")
			}
			if workers <= 0 {
				workers = a.cfg.Batch.Workers
			}

			var subjects []*models.Subject
			failures := 0
			for _, dir := range dirs {
				subj, err := models.Resolve(models.Query{SubjectDir: dir, Session: session})
				if err != nil {
					a.logger.Error("cannot resolve subject", zap.String("dir", dir), zap.Error(err))
					a.metrics.Subject(metrics.StatusFailed)
					failures++
					continue
				}
				subjects = append(subjects, subj)
			}

			factory, err := a.factory(force)
			if err != nil {
				return err
			}
			b := &segmentation.Batch{Workers: workers, Factory: factory, Logger: a.logger, Metrics: a.metrics}
			outcomes, err := b.Run(cmd.Context(), subjects)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, o := range outcomes {
				if o.Err != nil {
					fmt.Fprintf(out, "%s: FAILED: %v\n", o.Subject, o.Err)
					continue
				}
				printResult(out, o.Result)
			}
			failures += len(segmentation.Failed(outcomes))
			fmt.Fprintf(out, "\n%d subjects, %d failed\n", len(dirs), failures)
			if failures > 0 {
				return fmt.Errorf("%d of %d subjects failed", failures, len(dirs))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&list, "list", "", "file listing subject directories")
	f.StringVar(&session, "session", "", "session suffix for longitudinal studies")
	f.IntVarP(&workers, "workers", "j", 0, "concurrent subjects (default batch.workers)")
	f.BoolVarP(&force, "force", "f", false, "overwrite existing segmentations and intermediates")
	return cmd
}

// readList returns the non-empty, non-comment lines of path.
func readList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
