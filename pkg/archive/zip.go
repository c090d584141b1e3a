// Package archive packs a job's interpolated frames into a zip file.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrEmpty is returned when the source directory holds no regular files
var ErrEmpty = errors.New("nothing to archive")

// Builder creates archives lazily and caches them on disk.
// Concurrent requests for the same destination build it once.
type Builder struct {
	mu    sync.Mutex
	locks map[string]*destLock
}

// destLock serializes builds of one destination; refs counts holders and
// waiters so the entry can be dropped when the last one leaves
type destLock struct {
	sync.Mutex
	refs int
}

// NewBuilder creates a Builder
func NewBuilder() *Builder {
	return &Builder{locks: make(map[string]*destLock)}
}

func (b *Builder) acquire(dest string) *destLock {
	b.mu.Lock()
	l, ok := b.locks[dest]
	if !ok {
		l = &destLock{}
		b.locks[dest] = l
	}
	l.refs++
	b.mu.Unlock()

	l.Lock()
	return l
}

func (b *Builder) release(dest string, l *destLock) {
	l.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(b.locks, dest)
	}
}

func (b *Builder) tracked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.locks)
}

// Ensure returns dest, building it from srcDir first if it does not exist.
func (b *Builder) Ensure(ctx context.Context, srcDir, dest string) (string, error) {
	l := b.acquire(dest)
	defer b.release(dest, l)

	if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		return dest, nil
	}
	if err := Dir(ctx, srcDir, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Dir zips the regular files directly inside srcDir into dest. The archive is
// written to a temporary file beside dest and renamed into place, so a reader
// never sees a partial archive.
func Dir(ctx context.Context, srcDir, dest string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", srcDir, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(srcDir, e.Name()))
		}
	}
	if len(files) == 0 {
		return ErrEmpty
	}
	sort.Strings(files)

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".frames-*.zip")
	if err != nil {
		return fmt.Errorf("create zip file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, fp := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := addFileToZip(zw, fp); err != nil {
			return fmt.Errorf("add %s to zip: %w", fp, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize zip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("rename zip: %w", err)
	}
	committed = true
	return nil
}

func addFileToZip(zw *zip.Writer, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.Base(filename)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, file)
	return err
}
