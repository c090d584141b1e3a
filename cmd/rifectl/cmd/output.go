package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/ffmpeg-rife/pkg/models"
)

func printJob(w io.Writer, job models.Job) error {
	if outputFormat != "table" {
		return printStructured(w, job)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	table.Append("ID", job.ID)
	table.Append("Kind", string(job.Kind))
	table.Append("Status", string(job.Status))
	table.Append("Params", formatParams(job))
	table.Append("Created At", job.CreatedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		table.Append("Completed At", job.CompletedAt.Format(time.RFC3339))
		table.Append("Duration", job.CompletedAt.Sub(job.CreatedAt).Round(time.Millisecond).String())
	}
	if job.OutputURL != "" {
		table.Append("Output", job.OutputURL)
	}
	if job.FramesURL != "" {
		table.Append("Frames", job.FramesURL)
	}
	if job.Error != "" {
		table.Append("Error", truncate(job.Error, 120))
	}
	return table.Render()
}

func printJobs(w io.Writer, jobs []models.Job) error {
	if outputFormat != "table" {
		return printStructured(w, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Kind", "Status", "Params", "Created", "Error")
	for _, job := range jobs {
		errMsg := "-"
		if job.Error != "" {
			errMsg = truncate(job.Error, 40)
		}
		table.Append(job.ID, string(job.Kind), string(job.Status), formatParams(job),
			job.CreatedAt.Format("2006-01-02 15:04"), errMsg)
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nTotal jobs: %d\n", len(jobs))
	return nil
}

// printStructured emits v as json or yaml using the json field names
func printStructured(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if outputFormat == "json" {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return enc.Close()
}

func formatParams(job models.Job) string {
	p := job.Params
	switch job.Kind {
	case models.JobKindFramePair:
		return "num_mid=" + strconv.Itoa(p.NumMid) + " exp=" + strconv.Itoa(p.Exp) + " fps=" + strconv.Itoa(p.FPS)
	default:
		return "exp=" + strconv.Itoa(p.Exp) + " fps=" + strconv.Itoa(p.FPS) + " scale=" + strconv.Itoa(p.Scale)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
