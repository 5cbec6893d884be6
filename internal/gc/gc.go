// Package gc implements periodic cache garbage collection: sweeping
// ArtifactHandles whose cache entry has not been touched within a
// configurable TTL, scheduled with robfig/cron/v3 the way the teacher
// schedules its per-plugin jobs in api/internal/plugins/scheduler.go
// (a single shared cron.Cron instance, jobs registered by name, removable
// on shutdown).
//
// This is an ambient-stack addition (spec.md §9 "global state... limited
// to the cache directory path"): C3's cache is authoritative and correct
// without ever running GC; this package only reclaims disk space a real
// CI fleet would otherwise have to do by hand.
package gc

import (
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/software-mansion/scarb-macro-host/internal/logger"
)

// Sweeper periodically removes cache entries under Root whose newest file
// modification time is older than TTL. Cache hits do not update that
// time; only writing the artifact does.
type Sweeper struct {
	Root string
	TTL  time.Duration

	cron *cron.Cron
}

// NewSweeper creates a Sweeper; call Start to begin its schedule.
func NewSweeper(root string, ttl time.Duration) *Sweeper {
	return &Sweeper{Root: root, TTL: ttl, cron: cron.New()}
}

// Start schedules a sweep on the given cron expression (e.g. "@hourly")
// and runs until Stop is called.
func (s *Sweeper) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, s.sweepOnce)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// SweepOnce runs one collection pass immediately, independent of the cron
// schedule, and reports how many cache entries it removed.
func (s *Sweeper) SweepOnce() (removed int, err error) {
	return s.sweep()
}

func (s *Sweeper) sweepOnce() {
	removed, err := s.sweep()
	log := logger.Build()
	if err != nil {
		log.Warn().Err(err).Msg("cache gc pass failed")
		return
	}
	log.Info().Int("removed", removed).Msg("cache gc pass complete")
}

func (s *Sweeper) sweep() (int, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-s.TTL)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == ".locks" {
			continue
		}
		dir := filepath.Join(s.Root, entry.Name())
		touched, err := mostRecentAccess(dir)
		if err != nil {
			continue
		}
		if touched.Before(cutoff) {
			if err := os.RemoveAll(dir); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func mostRecentAccess(dir string) (time.Time, error) {
	var latest time.Time
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	return latest, err
}
