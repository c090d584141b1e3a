package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/psantana5/ffmpeg-rife/internal/wrapper/wrappertest"
	"github.com/psantana5/ffmpeg-rife/pkg/interp"
	"github.com/psantana5/ffmpeg-rife/pkg/media"
	"github.com/psantana5/ffmpeg-rife/pkg/models"
	"github.com/psantana5/ffmpeg-rife/pkg/store"
)

type fixture struct {
	store  *store.MemoryStore
	ws     *Workspace
	runner *wrappertest.Runner
	orch   *Orchestrator
}

func newFixture(t *testing.T, h wrappertest.HandlerFunc, opts ...Option) *fixture {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)

	runner := wrappertest.NewRunner(h)
	s := store.NewMemoryStore()
	orch := NewOrchestrator(s,
		media.NewFFmpeg("ffmpeg", runner),
		interp.NewRIFE("python3", "/opt/rife", runner),
		ws, nil, opts...)
	return &fixture{store: s, ws: ws, runner: runner, orch: orch}
}

func (f *fixture) upload(t *testing.T, name string) string {
	t.Helper()
	path, err := f.ws.SaveUpload(name, strings.NewReader("payload"))
	require.NoError(t, err)
	return path
}

func (f *fixture) create(t *testing.T, id string, kind models.JobKind) {
	t.Helper()
	_, err := f.store.CreateJob(id, kind, models.JobParams{})
	require.NoError(t, err)
}

func TestRunVideoSuccess(t *testing.T) {
	f := newFixture(t, wrappertest.Tools(4))
	f.create(t, "job1", models.JobKindVideo)
	input := f.upload(t, "job1_in.mp4")

	job := f.orch.RunVideo(context.Background(), VideoRequest{JobID: "job1", InputPath: input, Exp: 2})

	assert.Equal(t, models.JobStatusDone, job.Status)
	assert.Equal(t, "/jobs/job1/download", job.OutputURL)
	assert.Empty(t, job.FramesURL)
	assert.Empty(t, job.Error)
	assert.FileExists(t, f.ws.VideoPath("job1"))

	stored, err := f.store.GetJob("job1")
	require.NoError(t, err)
	assert.Equal(t, job, stored)

	calls := f.runner.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "fps=30", calls[0].Flag("-vf"))
	assert.Equal(t, f.ws.FramesDir("job1"), calls[1].Flag("--img"))
	assert.Equal(t, f.ws.OutputDir("job1"), calls[1].Flag("--output"))
	assert.Equal(t, "2", calls[1].Flag("--exp"))
	assert.Equal(t, "30", calls[2].Flag("-framerate"))
	assert.Equal(t, filepath.Join(f.ws.OutputDir("job1"), "%06d.png"), calls[2].Flag("-i"))
}

func TestRunVideoUsesRequestedFPS(t *testing.T) {
	f := newFixture(t, wrappertest.Tools(2))
	f.create(t, "job1", models.JobKindVideo)

	job := f.orch.RunVideo(context.Background(), VideoRequest{
		JobID: "job1", InputPath: f.upload(t, "in.mp4"), Exp: 1, FPS: 60, Scale: 2,
	})
	require.Equal(t, models.JobStatusDone, job.Status)

	calls := f.runner.Calls()
	assert.Equal(t, "fps=60", calls[0].Flag("-vf"))
	assert.Equal(t, "2", calls[1].Flag("--scale"))
	assert.Equal(t, "60", calls[2].Flag("-framerate"))
}

func TestRunVideoToolFailure(t *testing.T) {
	f := newFixture(t, func(c wrappertest.Call) (string, int) {
		if c.Command == "python3" {
			return "Traceback: model not found", 1
		}
		return wrappertest.Tools(3)(c)
	})
	f.create(t, "job1", models.JobKindVideo)

	job := f.orch.RunVideo(context.Background(), VideoRequest{JobID: "job1", InputPath: f.upload(t, "in.mp4")})

	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Empty(t, job.OutputURL)
	assert.Contains(t, job.Error, "interpolate failed")
	assert.Contains(t, job.Error, "model not found")
	assert.NoFileExists(t, f.ws.VideoPath("job1"))
	assert.Len(t, f.runner.Calls(), 2, "encode must not run after a failed stage")
}

func TestRunVideoMissingInput(t *testing.T) {
	f := newFixture(t, wrappertest.Tools(3))
	f.create(t, "job1", models.JobKindVideo)

	job := f.orch.RunVideo(context.Background(), VideoRequest{JobID: "job1", InputPath: "/nope.mp4"})

	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Contains(t, job.Error, "extract failed")
	assert.Empty(t, f.runner.Calls())
}

func TestRunFramePairSuccess(t *testing.T) {
	f := newFixture(t, wrappertest.Tools(0))
	f.create(t, "pair1", models.JobKindFramePair)
	a, b := f.upload(t, "pair1_a.png"), f.upload(t, "pair1_b.png")

	job := f.orch.RunFramePair(context.Background(), FramePairRequest{JobID: "pair1", FrameA: a, FrameB: b, NumMid: 6})

	require.Equal(t, models.JobStatusDone, job.Status, job.Error)
	assert.Equal(t, "/jobs/pair1/download", job.OutputURL)
	assert.Equal(t, "/jobs/pair1/frames.zip", job.FramesURL)

	assert.FileExists(t, filepath.Join(f.ws.PairDir("pair1"), "000000.png"))
	assert.FileExists(t, filepath.Join(f.ws.PairDir("pair1"), "000001.png"))

	calls := f.runner.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "3", calls[0].Flag("--exp"), "6 middle frames need exp 3")
	assert.Equal(t, f.ws.PairDir("pair1"), calls[0].Flag("--img"))

	n, err := media.CountFrames(f.ws.OutputDir("pair1"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}

func TestRunFramePairZeroMiddleFrames(t *testing.T) {
	f := newFixture(t, wrappertest.Tools(0))
	f.create(t, "pair1", models.JobKindFramePair)

	job := f.orch.RunFramePair(context.Background(), FramePairRequest{
		JobID: "pair1", FrameA: f.upload(t, "a.png"), FrameB: f.upload(t, "b.png"), NumMid: 0,
	})
	require.Equal(t, models.JobStatusDone, job.Status)
	assert.Equal(t, "1", f.runner.Calls()[0].Flag("--exp"))
}

func TestRunFramePairClearsStaleWorkDir(t *testing.T) {
	f := newFixture(t, wrappertest.Tools(0))
	f.create(t, "pair1", models.JobKindFramePair)

	stale := filepath.Join(f.ws.OutputDir("pair1"), "zzz_stale.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))
	junk := filepath.Join(f.ws.JobDir("pair1"), "leftover.txt")
	require.NoError(t, os.WriteFile(junk, []byte("old"), 0644))

	job := f.orch.RunFramePair(context.Background(), FramePairRequest{
		JobID: "pair1", FrameA: f.upload(t, "a.png"), FrameB: f.upload(t, "b.png"), NumMid: 1,
	})
	require.Equal(t, models.JobStatusDone, job.Status)
	assert.NoFileExists(t, stale)
	assert.NoFileExists(t, junk)
}

func TestRunFramePairMissingFrame(t *testing.T) {
	f := newFixture(t, wrappertest.Tools(0))
	f.create(t, "pair1", models.JobKindFramePair)

	job := f.orch.RunFramePair(context.Background(), FramePairRequest{
		JobID: "pair1", FrameA: f.upload(t, "a.png"), FrameB: "/missing.png",
	})
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Contains(t, job.Error, "prepare failed")
	assert.Empty(t, job.FramesURL)
	assert.Empty(t, f.runner.Calls())
}

type panickingInterpolator struct{}

func (panickingInterpolator) Interpolate(context.Context, string, string, int, int) error {
	panic("nil model")
}

func TestPanicBecomesJobError(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	s := store.NewMemoryStore()
	runner := wrappertest.NewRunner(wrappertest.Tools(2))
	orch := NewOrchestrator(s, media.NewFFmpeg("ffmpeg", runner), panickingInterpolator{}, ws, nil)

	_, err = s.CreateJob("job1", models.JobKindVideo, models.JobParams{})
	require.NoError(t, err)
	input, err := ws.SaveUpload("in.mp4", strings.NewReader("x"))
	require.NoError(t, err)

	job := orch.RunVideo(context.Background(), VideoRequest{JobID: "job1", InputPath: input})
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Contains(t, job.Error, "nil model")
}

func TestAlreadyTerminalJobIsNotOverwritten(t *testing.T) {
	f := newFixture(t, wrappertest.Tools(2))
	f.create(t, "job1", models.JobKindVideo)
	_, err := f.store.SetError("job1", "cancelled by operator")
	require.NoError(t, err)

	job := f.orch.RunVideo(context.Background(), VideoRequest{JobID: "job1", InputPath: f.upload(t, "in.mp4")})
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Equal(t, "cancelled by operator", job.Error)
}

type recorder struct {
	mu       sync.Mutex
	stages   []string
	failed   []string
	finished []models.Job
}

func (r *recorder) JobFinished(job models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, job)
}

func (r *recorder) StageFinished(stage string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
	if err != nil {
		r.failed = append(r.failed, stage)
	}
}

func TestRecorderAndSpans(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	rec := &recorder{}

	f := newFixture(t, wrappertest.Tools(0), WithRecorder(rec), WithTracer(tp.Tracer("test")))
	f.create(t, "pair1", models.JobKindFramePair)
	f.orch.RunFramePair(context.Background(), FramePairRequest{
		JobID: "pair1", FrameA: f.upload(t, "a.png"), FrameB: f.upload(t, "b.png"), NumMid: 3,
	})

	assert.Equal(t, []string{"prepare", "interpolate", "encode"}, rec.stages)
	assert.Empty(t, rec.failed)
	require.Len(t, rec.finished, 1)
	assert.Equal(t, models.JobStatusDone, rec.finished[0].Status)

	var names []string
	for _, s := range spans.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"stage.prepare", "stage.interpolate", "stage.encode", "pipeline.frame-pair"}, names)
}

func TestConcurrentJobsAreIsolated(t *testing.T) {
	f := newFixture(t, wrappertest.Tools(3))
	ids := []string{"a1", "b2", "c3", "d4"}
	for _, id := range ids {
		f.create(t, id, models.JobKindVideo)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		input := f.upload(t, id+"_in.mp4")
		wg.Add(1)
		go func(id, input string) {
			defer wg.Done()
			f.orch.RunVideo(context.Background(), VideoRequest{JobID: id, InputPath: input})
		}(id, input)
	}
	wg.Wait()

	for _, id := range ids {
		job, err := f.store.GetJob(id)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusDone, job.Status, id)
		assert.FileExists(t, f.ws.VideoPath(id))
	}
}
