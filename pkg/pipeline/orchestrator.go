// Package pipeline runs the whole-video and frame-pair interpolation
// pipelines and records each job's outcome in the registry.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/ffmpeg-rife/pkg/interp"
	"github.com/psantana5/ffmpeg-rife/pkg/logging"
	"github.com/psantana5/ffmpeg-rife/pkg/media"
	"github.com/psantana5/ffmpeg-rife/pkg/models"
	"github.com/psantana5/ffmpeg-rife/pkg/store"
	"github.com/psantana5/ffmpeg-rife/pkg/tracing"
)

// DefaultNumMid is how many in-between frames a frame pair asks for by default
const DefaultNumMid = 6

// FrameCodec splits videos into stills and encodes stills into videos
type FrameCodec interface {
	ExtractFrames(ctx context.Context, videoPath, outDir string, fps int) error
	EncodeVideo(ctx context.Context, framesDir, outPath string, fps int) (media.Strategy, error)
}

// Interpolator synthesizes intermediate frames
type Interpolator interface {
	Interpolate(ctx context.Context, framesDir, outDir string, exp, scale int) error
}

// Recorder receives pipeline observations; *metrics.Metrics satisfies it
type Recorder interface {
	JobFinished(job models.Job)
	StageFinished(stage string, d time.Duration, err error)
}

// VideoRequest describes a whole-video job
type VideoRequest struct {
	JobID     string
	InputPath string
	Exp       int
	FPS       int
	Scale     int
}

// FramePairRequest describes a two-still job
type FramePairRequest struct {
	JobID  string
	FrameA string
	FrameB string
	NumMid int
	FPS    int
}

// Orchestrator sequences the adapters for one job at a time per call.
// Calls for different jobs may run concurrently.
type Orchestrator struct {
	store    store.Store
	codec    FrameCodec
	interp   Interpolator
	ws       *Workspace
	logger   *logging.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRecorder reports stage and job metrics to r
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithTracer overrides the global tracer
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// NewOrchestrator wires the pipeline
func NewOrchestrator(s store.Store, codec FrameCodec, ip Interpolator, ws *Workspace, logger *logging.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.Discard()
	}
	o := &Orchestrator{
		store:  s,
		codec:  codec,
		interp: ip,
		ws:     ws,
		logger: logger,
		tracer: otel.Tracer("github.com/psantana5/ffmpeg-rife/pkg/pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Workspace returns the directory layout the orchestrator writes to
func (o *Orchestrator) Workspace() *Workspace {
	return o.ws
}

// RunVideo extracts, interpolates and re-encodes a video. The job must
// already exist in the registry in the running state; the returned job is
// its terminal record.
func (o *Orchestrator) RunVideo(ctx context.Context, req VideoRequest) models.Job {
	fps := orDefault(req.FPS, media.DefaultFPS)
	exp := orDefault(req.Exp, interp.DefaultExp)
	scale := orDefault(req.Scale, 1)

	return o.run(ctx, req.JobID, models.JobKindVideo, func(ctx context.Context, log *logging.Logger) (string, error) {
		id := req.JobID
		if err := o.ws.Reset(id); err != nil {
			return "", &models.PipelineError{Stage: "prepare", Err: err}
		}

		frames, output := o.ws.FramesDir(id), o.ws.OutputDir(id)
		if err := o.stage(ctx, log, "extract", func(ctx context.Context) error {
			return o.codec.ExtractFrames(ctx, req.InputPath, frames, fps)
		}); err != nil {
			return "", err
		}
		if err := o.stage(ctx, log, "interpolate", func(ctx context.Context) error {
			return o.interp.Interpolate(ctx, frames, output, exp, scale)
		}); err != nil {
			return "", err
		}
		if err := o.encode(ctx, log, output, o.ws.VideoPath(id), fps); err != nil {
			return "", err
		}
		return "", nil
	})
}

// RunFramePair interpolates between two stills and encodes the sequence.
// The job's arena is cleared first so leftovers never leak into the output.
func (o *Orchestrator) RunFramePair(ctx context.Context, req FramePairRequest) models.Job {
	fps := orDefault(req.FPS, media.DefaultFPS)
	numMid := req.NumMid
	if numMid < 0 {
		numMid = DefaultNumMid
	}
	exp := interp.ExpForMiddleFrames(numMid)

	return o.run(ctx, req.JobID, models.JobKindFramePair, func(ctx context.Context, log *logging.Logger) (string, error) {
		id := req.JobID
		pair, output := o.ws.PairDir(id), o.ws.OutputDir(id)

		if err := o.stage(ctx, log, "prepare", func(context.Context) error {
			if err := o.ws.Reset(id); err != nil {
				return &models.PipelineError{Stage: "prepare", Err: err}
			}
			if err := makeDir(pair); err != nil {
				return &models.PipelineError{Stage: "prepare", Err: err}
			}
			for i, src := range []string{req.FrameA, req.FrameB} {
				dst := filepath.Join(pair, fmt.Sprintf(media.FramePattern, i))
				if err := copyFile(src, dst); err != nil {
					return &models.PipelineError{Stage: "prepare", Err: err}
				}
			}
			return nil
		}); err != nil {
			return "", err
		}

		log.Debug("interpolating pair", logging.Fields{"num_mid": numMid, "exp": exp})
		if err := o.stage(ctx, log, "interpolate", func(ctx context.Context) error {
			return o.interp.Interpolate(ctx, pair, output, exp, 1)
		}); err != nil {
			return "", err
		}
		if err := o.encode(ctx, log, output, o.ws.VideoPath(id), fps); err != nil {
			return "", err
		}

		if isDir(output) {
			return models.FramesURL(id), nil
		}
		return "", nil
	})
}

func (o *Orchestrator) encode(ctx context.Context, log *logging.Logger, framesDir, outPath string, fps int) error {
	return o.stage(ctx, log, "encode", func(ctx context.Context) error {
		strategy, err := o.codec.EncodeVideo(ctx, framesDir, outPath, fps)
		if strategy != "" {
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("encode.strategy", string(strategy)))
			log.Debug("encode strategy", logging.Fields{"strategy": string(strategy)})
		}
		return err
	})
}

type pipelineFunc func(ctx context.Context, log *logging.Logger) (framesURL string, err error)

// run executes fn and records exactly one terminal transition for jobID
func (o *Orchestrator) run(ctx context.Context, jobID string, kind models.JobKind, fn pipelineFunc) models.Job {
	log := o.logger.WithFields(logging.Fields{"job_id": jobID, "kind": string(kind)})

	ctx, span := o.tracer.Start(ctx, "pipeline."+string(kind),
		trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	log.Info("pipeline started")
	framesURL, err := safeRun(ctx, log, fn)

	var job models.Job
	var serr error
	if err != nil {
		tracing.SetError(ctx, err)
		log.Error("pipeline failed", logging.Fields{"error": err.Error()})
		job, serr = o.store.SetError(jobID, err.Error())
	} else {
		job, serr = o.store.SetDone(jobID, models.OutputURL(jobID), framesURL)
		log.Info("pipeline finished", logging.Fields{"frames_url": framesURL})
	}
	if serr != nil {
		// the registry keeps whatever terminal state it already had
		log.Warn("failed to record job outcome", logging.Fields{"error": serr.Error()})
		if current, gerr := o.store.GetJob(jobID); gerr == nil {
			job = current
		}
	}

	if o.recorder != nil && job.IsTerminal() {
		o.recorder.JobFinished(job)
	}
	return job
}

func safeRun(ctx context.Context, log *logging.Logger, fn pipelineFunc) (framesURL string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", logging.Fields{"panic": fmt.Sprint(r), "stack": string(debug.Stack())})
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return fn(ctx, log)
}

// stage wraps one adapter call with a span, a duration metric and a log line
func (o *Orchestrator) stage(ctx context.Context, log *logging.Logger, name string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "stage."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if o.recorder != nil {
		o.recorder.StageFinished(name, elapsed, err)
	}
	if err != nil {
		tracing.SetError(ctx, err)
		return err
	}
	log.Debug("stage finished", logging.Fields{"stage": name, "duration": elapsed.String()})
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
