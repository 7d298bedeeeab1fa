package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-lapse/internal/alignment"
	"github.com/kozaktomas/face-lapse/internal/database"
)

var alignCmd = &cobra.Command{
	Use:   "align [id...]",
	Short: "Detect eyes and align photos",
	Long: `Run face alignment for the given image ids, for every image that was never
attempted (--pending), or for the whole library (--all).

Images are processed in library order. An image without a detectable face
is marked as such and keeps no aligned version.

Example:
  face-lapse align 12 13 14
  face-lapse align --pending
  face-lapse align --all --json`,
	RunE: runAlign,
}

func init() {
	rootCmd.AddCommand(alignCmd)
	alignCmd.Flags().Bool("pending", false, "Align images that were never attempted")
	alignCmd.Flags().Bool("all", false, "Align every image in the library")
	alignCmd.Flags().Bool("json", false, "Output the summary as JSON")
}

// selectAlignIDs resolves the command arguments into ids in library order.
func selectAlignIDs(records []database.ImageRecord, args []string, pending, all bool) ([]int64, error) {
	modes := 0
	for _, set := range []bool{len(args) > 0, pending, all} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		return nil, errors.New("pass image ids, --pending or --all")
	}

	var ids []int64
	switch {
	case all:
		for _, rec := range records {
			ids = append(ids, rec.ID)
		}
	case pending:
		for _, rec := range records {
			if !rec.Attempted() {
				ids = append(ids, rec.ID)
			}
		}
	default:
		for _, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid image id %q", arg)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func runAlign(cmd *cobra.Command, args []string) error {
	pending := mustGetBool(cmd, "pending")
	all := mustGetBool(cmd, "all")
	jsonOutput := mustGetBool(cmd, "json")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.images.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	ids, err := selectAlignIDs(records, args, pending, all)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("Nothing to align.")
		return nil
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(ids),
			progressbar.OptionSetDescription("Aligning"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("photos"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	var summary *alignment.Summary
	for ev := range a.engine.Align(ctx, ids) {
		if ev.Progress != nil && bar != nil {
			bar.Add(1)
		}
		if ev.Summary != nil {
			summary = ev.Summary
		}
	}
	if summary == nil {
		return fmt.Errorf("alignment interrupted: %w", context.Cause(ctx))
	}

	if jsonOutput {
		return outputJSON(summary)
	}

	fmt.Println()
	for _, o := range summary.Outcomes {
		switch o.Status {
		case alignment.StatusNoFace:
			fmt.Printf("No face: #%d %s\n", o.ID, o.OriginalFilename)
		case alignment.StatusError:
			fmt.Printf("Failed:  #%d %s: %s\n", o.ID, o.OriginalFilename, o.Error)
		}
	}
	fmt.Printf("Aligned %d, no face %d, failed %d\n", summary.AlignedCount, summary.NoFaceCount, summary.FailedCount)
	return nil
}
