package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidJobID rejects ids that could escape the storage root
var ErrInvalidJobID = errors.New("invalid job id")

// Workspace lays out per-job directories under a storage root:
//
//	<root>/uploads/<id>_in.mp4      submitted files
//	<root>/jobs/<id>/frames/        extracted stills (video)
//	<root>/jobs/<id>/pair/          the two stills (frame pair)
//	<root>/jobs/<id>/output/        interpolated stills
//	<root>/jobs/<id>/output.mp4     encoded result
//	<root>/jobs/<id>/frames.zip     archive of output/, built on demand
type Workspace struct {
	root string
}

// NewWorkspace creates the root layout if needed
func NewWorkspace(root string) (*Workspace, error) {
	w := &Workspace{root: root}
	for _, dir := range []string{w.jobsRoot(), w.UploadsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return w, nil
}

// Root returns the storage root
func (w *Workspace) Root() string { return w.root }

func (w *Workspace) jobsRoot() string { return filepath.Join(w.root, "jobs") }

// UploadsDir holds the raw client uploads
func (w *Workspace) UploadsDir() string { return filepath.Join(w.root, "uploads") }

// ValidateJobID reports whether id is safe to use as a single path element
func ValidateJobID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, id)
	}
	return nil
}

// JobDir is the arena owned by one job
func (w *Workspace) JobDir(id string) string { return filepath.Join(w.jobsRoot(), id) }

// FramesDir holds frames extracted from a submitted video
func (w *Workspace) FramesDir(id string) string { return filepath.Join(w.JobDir(id), "frames") }

// PairDir holds the two submitted stills
func (w *Workspace) PairDir(id string) string { return filepath.Join(w.JobDir(id), "pair") }

// OutputDir holds the interpolated sequence
func (w *Workspace) OutputDir(id string) string { return filepath.Join(w.JobDir(id), "output") }

// VideoPath is the encoded result
func (w *Workspace) VideoPath(id string) string { return filepath.Join(w.JobDir(id), "output.mp4") }

// ArchivePath is where the frames archive is cached
func (w *Workspace) ArchivePath(id string) string { return filepath.Join(w.JobDir(id), "frames.zip") }

// UploadPath is where an uploaded file named name is stored
func (w *Workspace) UploadPath(name string) string {
	return filepath.Join(w.UploadsDir(), filepath.Base(name))
}

// Reset removes anything left in a job's arena and recreates it empty
func (w *Workspace) Reset(id string) error {
	if err := ValidateJobID(id); err != nil {
		return err
	}
	dir := w.JobDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	return os.MkdirAll(dir, 0755)
}

// SaveUpload streams r into the uploads directory under name
func (w *Workspace) SaveUpload(name string, r io.Reader) (string, error) {
	path := w.UploadPath(name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func makeDir(path string) error {
	return os.MkdirAll(path, 0755)
}
