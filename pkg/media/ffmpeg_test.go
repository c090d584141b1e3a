package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/ffmpeg-rife/internal/wrapper/wrappertest"
	"github.com/psantana5/ffmpeg-rife/pkg/models"
)

func TestDetectStrategy(t *testing.T) {
	tests := []struct {
		name      string
		files     []string
		wantStrat Strategy
		wantStart int
	}{
		{"numbered from one", []string{"000001.png", "000002.png"}, StrategySequential, 1},
		{"numbered from zero", []string{"000000.png", "000001.png"}, StrategySequential, 0},
		{"only zero", []string{"000000.png"}, StrategySequential, 0},
		{"irregular names", []string{"frame_a.png", "frame_b.png"}, StrategyGlob, 0},
		{"empty", nil, StrategyGlob, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("x"), 0644))
			}
			strat, start := DetectStrategy(dir)
			assert.Equal(t, tt.wantStrat, strat)
			assert.Equal(t, tt.wantStart, start)
		})
	}
}

func TestCountFramesMissingDir(t *testing.T) {
	n, err := CountFrames(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExtractFrames(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(video, []byte("video"), 0644))
	out := filepath.Join(dir, "frames")

	runner := wrappertest.NewRunner(wrappertest.Tools(5))
	ff := NewFFmpeg("/usr/bin/ffmpeg", runner)

	require.NoError(t, ff.ExtractFrames(context.Background(), video, out, 12))

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/usr/bin/ffmpeg", calls[0].Command)
	assert.Equal(t, []string{
		"-nostdin", "-y", "-i", video, "-vf", "fps=12", filepath.Join(out, "%06d.png"),
	}, calls[0].Args)

	n, err := CountFrames(out)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestExtractFramesMissingVideo(t *testing.T) {
	runner := wrappertest.NewRunner(nil)
	ff := NewFFmpeg("", runner)

	err := ff.ExtractFrames(context.Background(), "/does/not/exist.mp4", t.TempDir(), 30)

	var pe *models.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "extract", pe.Stage)
	assert.Empty(t, runner.Calls(), "ffmpeg must not run without an input")
}

func TestExtractFramesToolFailure(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(video, []byte("garbage"), 0644))

	runner := wrappertest.NewRunner(func(wrappertest.Call) (string, int) {
		return "Invalid data found when processing input", 1
	})
	err := NewFFmpeg("", runner).ExtractFrames(context.Background(), video, filepath.Join(dir, "f"), 30)

	var pe *models.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestExtractFramesNoOutput(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(video, []byte("video"), 0644))

	err := NewFFmpeg("", wrappertest.NewRunner(nil)).ExtractFrames(context.Background(), video, filepath.Join(dir, "f"), 30)
	assert.True(t, errors.Is(err, ErrNoFrames))
}

func TestEncodeVideoSequential(t *testing.T) {
	dir := t.TempDir()
	frames := filepath.Join(dir, "output")
	require.NoError(t, wrappertest.WriteFrames(frames, 0, 3))
	out := filepath.Join(dir, "output.mp4")

	runner := wrappertest.NewRunner(wrappertest.Tools(0))
	strat, err := NewFFmpeg("", runner).EncodeVideo(context.Background(), frames, out, 24)
	require.NoError(t, err)
	assert.Equal(t, StrategySequential, strat)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{
		"-nostdin", "-y", "-framerate", "24", "-start_number", "0",
		"-i", filepath.Join(frames, "%06d.png"),
		"-pix_fmt", "yuv420p", "-crf", "18", out,
	}, calls[0].Args)
	assert.FileExists(t, out)
}

func TestEncodeVideoGlob(t *testing.T) {
	dir := t.TempDir()
	frames := filepath.Join(dir, "output")
	require.NoError(t, os.MkdirAll(frames, 0755))
	for _, name := range []string{"img0.png", "img0_0.5.png", "img1.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(frames, name), []byte("x"), 0644))
	}
	out := filepath.Join(dir, "output.mp4")

	runner := wrappertest.NewRunner(wrappertest.Tools(0))
	strat, err := NewFFmpeg("", runner).EncodeVideo(context.Background(), frames, out, 0)
	require.NoError(t, err)
	assert.Equal(t, StrategyGlob, strat)

	call := runner.Calls()[0]
	assert.Equal(t, "30", call.Flag("-framerate"))
	assert.Equal(t, "glob", call.Flag("-pattern_type"))
	assert.Equal(t, filepath.Join(frames, "*.png"), call.Flag("-i"))
}

func TestEncodeVideoEmptyDir(t *testing.T) {
	runner := wrappertest.NewRunner(nil)
	_, err := NewFFmpeg("", runner).EncodeVideo(context.Background(), t.TempDir(), "/tmp/never.mp4", 30)

	var pe *models.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "encode", pe.Stage)
	assert.ErrorIs(t, err, ErrNoFrames)
	assert.Empty(t, runner.Calls())
}

func TestEncodeVideoMissingOutput(t *testing.T) {
	dir := t.TempDir()
	frames := filepath.Join(dir, "output")
	require.NoError(t, wrappertest.WriteFrames(frames, 1, 2))

	// exits 0 but writes nothing
	runner := wrappertest.NewRunner(nil)
	_, err := NewFFmpeg("", runner).EncodeVideo(context.Background(), frames, filepath.Join(dir, "out.mp4"), 30)
	assert.ErrorIs(t, err, ErrEmptyOutput)
}
