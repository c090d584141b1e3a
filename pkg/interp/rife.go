// Package interp drives the RIFE inference script that synthesizes
// intermediate frames between consecutive stills.
package interp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/psantana5/ffmpeg-rife/internal/wrapper"
	"github.com/psantana5/ffmpeg-rife/pkg/models"
)

// ScriptName is the entry point inside the RIFE checkout
const ScriptName = "inference_video.py"

// DefaultExp doubles the frame rate twice (3 new frames per gap)
const DefaultExp = 2

// RIFE invokes `python inference_video.py --img IN --output OUT --exp N`
type RIFE struct {
	python  string
	repoDir string
	runner  wrapper.Runner
}

// NewRIFE creates an adapter for the checkout at repoDir
func NewRIFE(python, repoDir string, runner wrapper.Runner) *RIFE {
	if python == "" {
		python = "python3"
	}
	return &RIFE{python: python, repoDir: repoDir, runner: runner}
}

// Script returns the path of the inference script
func (r *RIFE) Script() string {
	return filepath.Join(r.repoDir, ScriptName)
}

// Interpolate reads the stills in framesDir and writes the densified
// sequence to outDir. scale 1 is the tool default and is not forwarded.
func (r *RIFE) Interpolate(ctx context.Context, framesDir, outDir string, exp, scale int) error {
	if exp < 1 {
		return &models.PipelineError{Stage: "interpolate", Tool: "rife", Err: fmt.Errorf("invalid exp %d", exp)}
	}
	if !ValidScale(scale) {
		return &models.PipelineError{Stage: "interpolate", Tool: "rife", Err: fmt.Errorf("invalid scale %d", scale)}
	}
	info, err := os.Stat(framesDir)
	if err != nil {
		return &models.PipelineError{Stage: "interpolate", Tool: "rife", Err: err}
	}
	if !info.IsDir() {
		return &models.PipelineError{Stage: "interpolate", Tool: "rife", Err: fmt.Errorf("%s is not a directory", framesDir)}
	}

	args := []string{
		r.Script(),
		"--img", framesDir,
		"--output", outDir,
		"--exp", strconv.Itoa(exp),
	}
	if scale != 1 {
		args = append(args, "--scale", strconv.Itoa(scale))
	}

	res, err := r.runner.Run(ctx, r.python, args...)
	if err != nil {
		pe := &models.PipelineError{Stage: "interpolate", Tool: "rife", Err: err}
		if res != nil {
			pe.Output = res.Output
		}
		return pe
	}
	return nil
}

// ValidScale reports whether s is a resolution scale the tool accepts
func ValidScale(s int) bool {
	return s == 1 || s == 2 || s == 4
}

// ExpForMiddleFrames returns the smallest exp >= 1 whose 2^exp-1 in-between
// frames cover n.
func ExpForMiddleFrames(n int) int {
	exp := 1
	for MiddleFrames(exp) < n {
		exp++
	}
	return exp
}

// MiddleFrames is how many frames one pass inserts per gap
func MiddleFrames(exp int) int {
	if exp < 1 {
		return 0
	}
	return 1<<exp - 1
}
