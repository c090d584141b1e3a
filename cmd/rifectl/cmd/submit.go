package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/ffmpeg-rife/pkg/client"
	"github.com/psantana5/ffmpeg-rife/pkg/models"
)

var (
	// video flags
	exp   int
	fps   int
	scale int

	// frame pair flags
	numMid int
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an interpolation job",
	Long:  `Upload media to rifed. The command returns once the job has finished, successfully or not.`,
}

var submitVideoCmd = &cobra.Command{
	Use:   "video <file>",
	Short: "Interpolate every frame gap of a video",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmitVideo,
}

var submitFramesCmd = &cobra.Command{
	Use:   "frames <frame-a> <frame-b>",
	Short: "Synthesize the frames between two stills",
	Args:  cobra.ExactArgs(2),
	RunE:  runSubmitFrames,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.AddCommand(submitVideoCmd)
	submitCmd.AddCommand(submitFramesCmd)

	submitVideoCmd.Flags().IntVar(&exp, "exp", 0, "interpolation exponent, 2^exp-1 frames per gap (server default 2)")
	submitVideoCmd.Flags().IntVar(&fps, "fps", 0, "extraction and output frame rate (server default 30)")
	submitVideoCmd.Flags().IntVar(&scale, "scale", 0, "RIFE scale: 1, 2 or 4 (server default 1)")

	submitFramesCmd.Flags().IntVar(&numMid, "num-mid", -1, "intermediate frames wanted (server default 6)")
	submitFramesCmd.Flags().IntVar(&fps, "fps", 0, "output frame rate (server default 30)")
}

func runSubmitVideo(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	job, err := c.SubmitVideo(cmd.Context(), args[0], client.VideoOptions{Exp: exp, FPS: fps, Scale: scale})
	if err != nil {
		return err
	}
	return reportSubmitted(cmd, job)
}

func runSubmitFrames(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	job, err := c.SubmitFramePair(cmd.Context(), args[0], args[1], numMid, fps)
	if err != nil {
		return err
	}
	return reportSubmitted(cmd, job)
}

func reportSubmitted(cmd *cobra.Command, job models.Job) error {
	out := cmd.OutOrStdout()
	if err := printJob(out, job); err != nil {
		return err
	}
	if outputFormat != "table" {
		return nil
	}
	switch job.Status {
	case models.JobStatusDone:
		fmt.Fprintf(out, "\nJob %s finished. Fetch it with: rifectl download %s\n", job.ID, job.ID)
	case models.JobStatusError:
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	}
	return nil
}
