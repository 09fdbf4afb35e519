/**
 * @description
 * Cron scheduler for the settlement reconciliation sweep.
 */
package app

import (
	"context"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/robfig/cron/v3"
)

const defaultReconcileSchedule = "@every 1m"

// Reconciler is the work the scheduler runs on every tick.
type Reconciler interface {
	ReconcileSubmitted(ctx context.Context, limit int) (*domain.ReconcileResult, error)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	schedule   string
	batchSize  int
	timeout    time.Duration

	// running guards against overlapping sweeps when one tick outlasts the interval.
	running sync.Mutex
}

// NewScheduler creates a scheduler that runs the reconciliation sweep on schedule.
func NewScheduler(reconciler Reconciler, schedule string, batchSize int) *Scheduler {
	cronLogger := cron.PrintfLogger(log.New(os.Stdout, "component=scheduler ", log.LstdFlags))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = defaultReconcileSchedule
	}

	return &Scheduler{
		cron:       c,
		reconciler: reconciler,
		schedule:   schedule,
		batchSize:  batchSize,
		timeout:    5 * time.Minute,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunReconcile); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule reconcile job\" schedule=%q err=%v", s.schedule, err)
		return err
	}
	log.Printf("level=info component=scheduler msg=\"scheduled reconcile job\" schedule=%q batch_size=%d", s.schedule, s.batchSize)

	s.cron.Start()
	return nil
}

// RunReconcile runs one sweep. A tick that finds the previous sweep still running is skipped.
func (s *Scheduler) RunReconcile() {
	if !s.running.TryLock() {
		log.Printf("level=info component=scheduler msg=\"previous reconcile still running; skipping tick\"")
		return
	}
	defer s.running.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.reconciler.ReconcileSubmitted(ctx, s.batchSize); err != nil {
		log.Printf("level=error component=scheduler msg=\"reconcile job failed\" err=%v", err)
	}
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
