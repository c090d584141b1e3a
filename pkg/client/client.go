// Package client talks to a rifed server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/ffmpeg-rife/pkg/models"
	"github.com/psantana5/ffmpeg-rife/pkg/retry"
)

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client calls the job API. Reads are retried with backoff; submissions
// are not, since they are not idempotent.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   retry.Config
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry replaces the default retry policy for reads
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// New creates a client for the server at baseURL
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// no overall timeout: a submission blocks until its pipeline ends
		http:  &http.Client{},
		retry: retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// VideoOptions are the optional knobs of a video submission; zero means
// server default
type VideoOptions struct {
	Exp   int
	FPS   int
	Scale int
}

// SubmitVideo uploads a video and waits for the job to finish
func (c *Client) SubmitVideo(ctx context.Context, path string, opts VideoOptions) (models.Job, error) {
	fields := map[string]string{}
	setInt(fields, "exp", opts.Exp)
	setInt(fields, "fps", opts.FPS)
	setInt(fields, "scale", opts.Scale)
	return c.submit(ctx, "/jobs/video", fields, map[string]string{"file": path})
}

// SubmitFramePair uploads two stills and waits for the job to finish.
// numMid < 0 leaves the server default.
func (c *Client) SubmitFramePair(ctx context.Context, frameA, frameB string, numMid, fps int) (models.Job, error) {
	fields := map[string]string{}
	if numMid >= 0 {
		fields["num_mid"] = strconv.Itoa(numMid)
	}
	setInt(fields, "fps", fps)
	return c.submit(ctx, "/jobs/frames", fields, map[string]string{"frame_a": frameA, "frame_b": frameB})
}

// GetJob fetches one job
func (c *Client) GetJob(ctx context.Context, id string) (models.Job, error) {
	var job models.Job
	err := c.getJSON(ctx, "/jobs/"+url.PathEscape(id), &job)
	return job, err
}

// ListJobs fetches all jobs, optionally only those with status
func (c *Client) ListJobs(ctx context.Context, status string) ([]models.Job, error) {
	path := "/jobs"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var body struct {
		Jobs []models.Job `json:"jobs"`
	}
	err := c.getJSON(ctx, path, &body)
	return body.Jobs, err
}

// Wait polls until the job is terminal, calling onPoll after every fetch
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration, onPoll func(models.Job)) (models.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return job, err
		}
		if onPoll != nil {
			onPoll(job)
		}
		if job.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Download writes the artifact at path (an output_url or frames_url) to dst
// and returns the number of bytes written. dst is replaced only on success.
func (c *Client) Download(ctx context.Context, path, dst string) (int64, error) {
	var written int64
	err := retry.Do(ctx, c.retry, func() error {
		resp, err := c.do(ctx, http.MethodGet, path, nil, "")
		if err != nil {
			return transient(err)
		}
		defer resp.Body.Close()

		tmp, err := os.CreateTemp(filepath.Dir(dst), ".rifectl-*")
		if err != nil {
			return retry.Permanent(err)
		}
		n, copyErr := io.Copy(tmp, resp.Body)
		closeErr := tmp.Close()
		if copyErr != nil || closeErr != nil {
			os.Remove(tmp.Name())
			return transient(errors.Join(copyErr, closeErr))
		}
		if err := os.Rename(tmp.Name(), dst); err != nil {
			os.Remove(tmp.Name())
			return retry.Permanent(err)
		}
		written = n
		return nil
	})
	return written, err
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	return retry.Do(ctx, c.retry, func() error {
		resp, err := c.do(ctx, http.MethodGet, path, nil, "")
		if err != nil {
			return transient(err)
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
		return nil
	})
}

func (c *Client) submit(ctx context.Context, path string, fields, files map[string]string) (models.Job, error) {
	for _, p := range files {
		if _, err := os.Stat(p); err != nil {
			return models.Job{}, err
		}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, fields, files))
	}()

	resp, err := c.do(ctx, http.MethodPost, path, pr, mw.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
		return models.Job{}, err
	}
	defer resp.Body.Close()

	var job models.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return job, fmt.Errorf("failed to parse response: %w", err)
	}
	return job, nil
}

func writeForm(mw *multipart.Writer, fields, files map[string]string) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	for field, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		part, err := mw.CreateFormFile(field, filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		f.Close()
		if err != nil {
			return err
		}
	}
	return mw.Close()
}

// do sends a request and turns non-2xx responses into *APIError
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rifed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

// transient lets server-side and network failures be retried and stops on
// everything else
func transient(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests {
			return err
		}
		return retry.Permanent(err)
	}
	if retry.IsRetryable(err) {
		return err
	}
	return retry.Permanent(err)
}

func setInt(fields map[string]string, key string, v int) {
	if v > 0 {
		fields[key] = strconv.Itoa(v)
	}
}

// DownloadVideo saves a finished job's video to dst
func (c *Client) DownloadVideo(ctx context.Context, id, dst string) (int64, error) {
	return c.Download(ctx, models.OutputURL(url.PathEscape(id)), dst)
}

// DownloadFrames saves a finished frame-pair job's frames archive to dst
func (c *Client) DownloadFrames(ctx context.Context, id, dst string) (int64, error) {
	return c.Download(ctx, models.FramesURL(url.PathEscape(id)), dst)
}
