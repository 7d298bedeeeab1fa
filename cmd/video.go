package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-lapse/internal/video"
)

var videoCmd = &cobra.Command{
	Use:   "video",
	Short: "Render the timelapse video",
	Long: `Render every aligned and included photo, in library order, into the
timelapse video. The result replaces the previous render.

Example:
  face-lapse video
  face-lapse video --frame-duration 0.25 --show-dates --birthday 2019-05-04
  face-lapse video -o timelapse.mp4`,
	Args: cobra.NoArgs,
	RunE: runVideo,
}

func init() {
	rootCmd.AddCommand(videoCmd)
	videoCmd.Flags().Float64("frame-duration", 0, "Seconds per frame (default from configuration)")
	videoCmd.Flags().Bool("show-dates", false, "Draw the capture date on every frame")
	videoCmd.Flags().String("birthday", "", "Birthday as YYYY-MM-DD; adds the age to the caption")
	videoCmd.Flags().StringP("output", "o", "", "Also copy the rendered video to this path")
	videoCmd.Flags().Bool("json", false, "Output the artifact as JSON")
}

func runVideo(cmd *cobra.Command, args []string) error {
	frameDuration := mustGetFloat64(cmd, "frame-duration")
	showDates := mustGetBool(cmd, "show-dates")
	birthday := mustGetString(cmd, "birthday")
	output := mustGetString(cmd, "output")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := video.Options{FrameDuration: a.composer.DefaultFrameDuration(), ShowDates: showDates}
	if cmd.Flags().Changed("frame-duration") {
		opts.FrameDuration = frameDuration
	}
	if birthday != "" {
		b, err := time.Parse(time.DateOnly, birthday)
		if err != nil {
			return fmt.Errorf("--birthday must be YYYY-MM-DD: %w", err)
		}
		opts.Birthday = &b
	}

	if !jsonOutput {
		fmt.Println("Rendering video...")
	}
	artifact, err := a.composer.Compose(ctx, opts)
	if err != nil {
		return err
	}

	if output != "" {
		if err := copyLatestVideo(ctx, a.composer, output); err != nil {
			return err
		}
	}

	if jsonOutput {
		return outputJSON(artifact)
	}
	fmt.Printf("Rendered %d frame(s) at %.2fs each (%.1fs total)\n", artifact.FrameCount, artifact.FrameDuration, artifact.TotalDuration)
	if output != "" {
		fmt.Printf("Saved to %s\n", output)
	}
	return nil
}

func copyLatestVideo(ctx context.Context, composer *video.Composer, path string) error {
	_, rc, err := composer.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
