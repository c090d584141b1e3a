package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Strategy is how ffmpeg is told to find its input stills
type Strategy string

const (
	// StrategySequential feeds a %06d.png pattern
	StrategySequential Strategy = "sequential"
	// StrategyGlob feeds *.png, for irregular names
	StrategyGlob Strategy = "glob"
)

// DetectStrategy picks sequential input when dir holds a frame numbered
// 000001 (or 000000, in which case start is 0) and glob otherwise.
func DetectStrategy(dir string) (strategy Strategy, start int) {
	for _, n := range []int{1, 0} {
		if isFile(filepath.Join(dir, fmt.Sprintf(FramePattern, n))) {
			if n == 1 && isFile(filepath.Join(dir, fmt.Sprintf(FramePattern, 0))) {
				return StrategySequential, 0
			}
			return StrategySequential, n
		}
	}
	return StrategyGlob, 0
}

// CountFrames returns the number of *.png files directly inside dir.
// A missing dir counts as zero frames.
func CountFrames(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".png") {
			n++
		}
	}
	return n, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
