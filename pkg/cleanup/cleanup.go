// Package cleanup removes uploaded inputs once they are past retention.
// Job records and job output directories are never touched.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/psantana5/ffmpeg-rife/pkg/logging"
)

// Config defines the upload retention policy. Retention 0 keeps uploads forever.
type Config struct {
	Retention time.Duration
	Interval  time.Duration
}

// DefaultConfig returns sensible defaults for cleanup
func DefaultConfig() Config {
	return Config{
		Retention: 0,
		Interval:  time.Hour,
	}
}

// Stats tracks sweep runs
type Stats struct {
	LastSweepTime     time.Time
	LastSweepDuration time.Duration
	TotalRemoved      int64
	TotalFreedBytes   int64
}

// Manager periodically sweeps an upload directory
type Manager struct {
	config Config
	dir    string
	logger *logging.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// NewManager creates a manager for the uploads under dir
func NewManager(config Config, dir string, logger *logging.Logger) *Manager {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config: config,
		dir:    dir,
		logger: logger.WithField("component", "cleanup"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins periodic sweeping; it is a no-op when retention is 0
func (m *Manager) Start() {
	if m.config.Retention <= 0 {
		m.logger.Debug("upload retention disabled")
		return
	}
	m.logger.Info("starting upload cleanup", logging.Fields{
		"retention": m.config.Retention.String(),
		"interval":  m.config.Interval.String(),
	})

	m.wg.Add(1)
	go m.loop()
}

// Stop waits for an in-progress sweep and stops the loop
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.SweepNow()
		}
	}
}

// SweepNow removes regular files older than the retention period and
// returns how many were removed
func (m *Manager) SweepNow() int {
	if m.config.Retention <= 0 {
		return 0
	}
	start := m.now()
	cutoff := start.Add(-m.config.Retention)

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.logger.Warn("failed to list uploads", logging.Fields{"dir": m.dir, "error": err})
		return 0
	}

	removed := 0
	var freed int64
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		if err := os.Remove(path); err != nil {
			m.logger.Warn("failed to remove upload", logging.Fields{"path": path, "error": err})
			continue
		}
		removed++
		freed += info.Size()
	}

	duration := time.Since(start)
	m.mu.Lock()
	m.stats.LastSweepTime = start
	m.stats.LastSweepDuration = duration
	m.stats.TotalRemoved += int64(removed)
	m.stats.TotalFreedBytes += freed
	m.mu.Unlock()

	if removed > 0 {
		m.logger.Info("removed expired uploads", logging.Fields{"count": removed, "bytes": freed})
	}
	return removed
}

// GetStats returns current cleanup statistics
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
