// Package media wraps ffmpeg for the two operations the pipelines need:
// splitting a video into numbered stills and encoding stills back into an
// H.264 video.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/psantana5/ffmpeg-rife/internal/wrapper"
	"github.com/psantana5/ffmpeg-rife/pkg/models"
)

// DefaultFPS is used whenever a caller does not name a frame rate
const DefaultFPS = 30

// FramePattern is the printf pattern extracted frames are written with
const FramePattern = "%06d.png"

var (
	// ErrNoFrames means a frames directory held no PNG files
	ErrNoFrames = errors.New("no frames found")
	// ErrEmptyOutput means ffmpeg exited cleanly without writing a usable file
	ErrEmptyOutput = errors.New("output file missing or empty")
)

// FFmpeg runs the ffmpeg binary through a wrapper.Runner
type FFmpeg struct {
	bin    string
	runner wrapper.Runner
}

// NewFFmpeg creates an adapter. An empty bin means "ffmpeg" on PATH.
func NewFFmpeg(bin string, runner wrapper.Runner) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{bin: bin, runner: runner}
}

// ExtractFrames writes one PNG per sampled frame of videoPath into outDir,
// numbered from 000001.
func (f *FFmpeg) ExtractFrames(ctx context.Context, videoPath, outDir string, fps int) error {
	if fps <= 0 {
		fps = DefaultFPS
	}
	if _, err := os.Stat(videoPath); err != nil {
		return &models.PipelineError{Stage: "extract", Tool: f.bin, Err: err}
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return &models.PipelineError{Stage: "extract", Tool: f.bin, Err: err}
	}

	args := []string{
		"-nostdin", "-y",
		"-i", videoPath,
		"-vf", "fps=" + strconv.Itoa(fps),
		filepath.Join(outDir, FramePattern),
	}
	res, err := f.runner.Run(ctx, f.bin, args...)
	if err != nil {
		return &models.PipelineError{Stage: "extract", Tool: f.bin, Err: err, Output: output(res)}
	}

	n, err := CountFrames(outDir)
	if err != nil {
		return &models.PipelineError{Stage: "extract", Tool: f.bin, Err: err}
	}
	if n == 0 {
		return &models.PipelineError{Stage: "extract", Tool: f.bin, Err: ErrNoFrames, Output: output(res)}
	}
	return nil
}

// EncodeVideo encodes every PNG in framesDir into outPath and reports which
// input strategy it chose.
func (f *FFmpeg) EncodeVideo(ctx context.Context, framesDir, outPath string, fps int) (Strategy, error) {
	if fps <= 0 {
		fps = DefaultFPS
	}
	n, err := CountFrames(framesDir)
	if err != nil {
		return "", &models.PipelineError{Stage: "encode", Tool: f.bin, Err: err}
	}
	if n == 0 {
		return "", &models.PipelineError{
			Stage: "encode",
			Tool:  f.bin,
			Err:   fmt.Errorf("%w in %s", ErrNoFrames, framesDir),
		}
	}

	strategy, start := DetectStrategy(framesDir)
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return strategy, &models.PipelineError{Stage: "encode", Tool: f.bin, Err: err}
	}

	res, err := f.runner.Run(ctx, f.bin, encodeArgs(framesDir, outPath, fps, strategy, start)...)
	if err != nil {
		return strategy, &models.PipelineError{Stage: "encode", Tool: f.bin, Err: err, Output: output(res)}
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return strategy, &models.PipelineError{Stage: "encode", Tool: f.bin, Err: ErrEmptyOutput, Output: output(res)}
	}
	return strategy, nil
}

func encodeArgs(framesDir, outPath string, fps int, strategy Strategy, start int) []string {
	args := []string{"-nostdin", "-y", "-framerate", strconv.Itoa(fps)}
	switch strategy {
	case StrategySequential:
		if start != 1 {
			args = append(args, "-start_number", strconv.Itoa(start))
		}
		args = append(args, "-i", filepath.Join(framesDir, FramePattern))
	default:
		args = append(args, "-pattern_type", "glob", "-i", filepath.Join(framesDir, "*.png"))
	}
	return append(args, "-pix_fmt", "yuv420p", "-crf", "18", outPath)
}

func output(res *wrapper.Result) string {
	if res == nil {
		return ""
	}
	return res.Output
}
