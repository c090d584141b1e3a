package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/ffmpeg-rife/pkg/models"
)

var (
	followStatus   bool
	followInterval time.Duration
	statusFilter   string
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Get job status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)

	statusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll until the job reaches a terminal state")
	statusCmd.Flags().DurationVar(&followInterval, "interval", 2*time.Second, "poll interval for --follow")
	listCmd.Flags().StringVar(&statusFilter, "status", "", "only jobs with this status (running, done, error)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !followStatus {
		job, err := c.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJob(out, job)
	}

	var last models.JobStatus
	job, err := c.Wait(cmd.Context(), args[0], followInterval, func(j models.Job) {
		if outputFormat == "table" && j.Status != last {
			fmt.Fprintf(out, "%s  %s\n", time.Now().Format(time.TimeOnly), j.Status)
			last = j.Status
		}
	})
	if err != nil {
		return err
	}
	return printJob(out, job)
}

func runList(cmd *cobra.Command, args []string) error {
	switch models.JobStatus(statusFilter) {
	case "", models.JobStatusRunning, models.JobStatusDone, models.JobStatusError:
	default:
		return fmt.Errorf("unknown status %q", statusFilter)
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	jobs, err := c.ListJobs(cmd.Context(), statusFilter)
	if err != nil {
		return err
	}
	return printJobs(cmd.OutOrStdout(), jobs)
}
