package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/ffmpeg-rife/pkg/client"
)

var outFile string

var downloadCmd = &cobra.Command{
	Use:   "download <job-id>",
	Short: "Download the interpolated video of a finished job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fetch(cmd, args[0], ".mp4", (*client.Client).DownloadVideo)
	},
}

var framesCmd = &cobra.Command{
	Use:   "frames <job-id>",
	Short: "Download the intermediate frames of a finished frame-pair job as a zip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fetch(cmd, args[0], "_frames.zip", (*client.Client).DownloadFrames)
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(framesCmd)

	for _, c := range []*cobra.Command{downloadCmd, framesCmd} {
		c.Flags().StringVarP(&outFile, "out", "O", "", "destination file (default <job-id> plus extension)")
	}
}

func fetch(cmd *cobra.Command, id, suffix string, get func(*client.Client, context.Context, string, string) (int64, error)) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	dst := outFile
	if dst == "" {
		dst = id + suffix
	}
	n, err := get(c, cmd.Context(), id, dst)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", dst, n)
	return nil
}
