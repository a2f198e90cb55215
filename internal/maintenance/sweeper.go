// Package maintenance runs periodic housekeeping over the run store:
// stranded runs are requeued and old terminal runs are pruned.
package maintenance

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aicouncil/council-orchestrator/internal/config"
	"github.com/aicouncil/council-orchestrator/internal/runstore"
)

// Sweeper executes the maintenance schedule
type Sweeper struct {
	store      *runstore.Store
	schedule   cron.Schedule
	staleAfter time.Duration
	retention  time.Duration

	mu      sync.Mutex
	lastRun time.Time
}

// New creates a sweeper from the maintenance config section
func New(store *runstore.Store, cfg config.MaintenanceConfig) (*Sweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.Cron)
	if err != nil {
		return nil, err
	}

	return &Sweeper{
		store:      store,
		schedule:   schedule,
		staleAfter: time.Duration(cfg.StaleAfterMin) * time.Minute,
		retention:  time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	}, nil
}

// Sweep performs one maintenance pass. Runs still marked running after the
// stale window are assumed stranded by a dead process and reset to pending;
// terminal runs older than the retention window are deleted with all their
// owned rows.
func (s *Sweeper) Sweep(now time.Time) error {
	reset, err := s.store.ResetStrandedRuns(now.Add(-s.staleAfter))
	if err != nil {
		return err
	}
	if reset > 0 {
		log.Printf("[maintenance] reset %d stranded runs", reset)
	}

	if s.retention > 0 {
		pruned, err := s.store.PruneRunsBefore(now.Add(-s.retention))
		if err != nil {
			return err
		}
		if pruned > 0 {
			log.Printf("[maintenance] pruned %d runs past retention", pruned)
		}
	}
	return nil
}

// ShouldRun reports whether the schedule has come due since the last sweep
func (s *Sweeper) ShouldRun(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.lastRun
	if last.IsZero() {
		last = now.Add(-24 * time.Hour)
	}
	return now.After(s.schedule.Next(last))
}

// NextRun returns the next scheduled sweep time
func (s *Sweeper) NextRun(now time.Time) time.Time {
	return s.schedule.Next(now)
}

// Start runs the sweeper loop until ctx is cancelled
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.ShouldRun(now) {
				continue
			}
			if err := s.Sweep(now); err != nil {
				log.Printf("[maintenance] sweep failed: %v", err)
			}
			s.mu.Lock()
			s.lastRun = now
			s.mu.Unlock()
		}
	}
}
