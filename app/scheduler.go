package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ai-trade-finder/database/types"
)

// Job names
const (
	JobTradeFinder        = "trade_finder"
	JobExpirySweep        = "expiry_sweep"
	JobStatistics         = "statistics"
	JobConversationExpiry = "conversation_expiry"
)

// ErrJobRunning is returned by RunNow while the job is still executing
var ErrJobRunning = errors.New("job is already running")

// JobFunc is a schedulable unit of work
type JobFunc func(ctx context.Context) error

type jobEntry struct {
	name      string
	schedule  string
	fn        JobFunc
	cronID    cron.EntryID
	running   bool
	runs      int
	lastRun   time.Time
	lastError string
}

// Scheduler runs named jobs on cron schedules. Overlapping runs of the same job
// are skipped, and a panicking job is recovered and logged.
type Scheduler struct {
	cron    *cron.Cron
	auditor *Auditor

	mu    sync.Mutex
	jobs  map[string]*jobEntry
	order []string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler; verbose enables cron's per-run logging
func NewScheduler(auditor *Auditor, verbose bool) *Scheduler {
	logger := cron.PrintfLogger(log.Default())
	if verbose {
		logger = cron.VerbosePrintfLogger(log.Default())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		auditor: auditor,
		jobs:    make(map[string]*jobEntry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a named job. Names are unique.
func (s *Scheduler) Register(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	id, err := s.cron.AddFunc(schedule, func() {
		if err := s.execute(name); err != nil && !errors.Is(err, ErrJobRunning) {
			log.Printf("❌ Job %s failed: %v", name, err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, name, err)
	}

	s.jobs[name] = &jobEntry{name: name, schedule: schedule, fn: fn, cronID: id}
	s.order = append(s.order, name)
	log.Printf("⏰ Job %s registered (%s)", name, schedule)
	return nil
}

// Start begins firing jobs. Jobs receive a context that Stop cancels.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("✅ Scheduler started with %d jobs", len(s.order))
}

// Stop cancels running jobs and waits up to timeout for them to return
func (s *Scheduler) Stop(timeout time.Duration) {
	s.cancel()
	done := s.cron.Stop()

	select {
	case <-done.Done():
		log.Println("✅ Scheduler stopped")
	case <-time.After(timeout):
		log.Println("⚠️  Scheduler stop timed out, jobs still running")
	}
}

// RunNow executes a job synchronously outside its schedule
func (s *Scheduler) RunNow(name string) error {
	return s.execute(name)
}

func (s *Scheduler) execute(name string) (err error) {
	s.mu.Lock()
	entry, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %s not found", name)
	}
	if entry.running {
		s.mu.Unlock()
		log.Printf("⏭️  Job %s still running, skipped", name)
		return ErrJobRunning
	}
	entry.running = true
	s.mu.Unlock()

	ctx, span := s.auditor.Start(s.ctx, "job."+name, "")
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
		}

		s.mu.Lock()
		entry.running = false
		entry.runs++
		entry.lastRun = start
		entry.lastError = ""
		if err != nil {
			entry.lastError = err.Error()
		}
		s.mu.Unlock()

		if err != nil {
			span.Failure(err, nil)
		} else {
			span.Success("", nil)
		}
	}()

	return entry.fn(ctx)
}

// Jobs describes every registered job
func (s *Scheduler) Jobs() []types.JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.JobInfo, 0, len(s.order))
	for _, name := range s.order {
		e := s.jobs[name]
		out = append(out, types.JobInfo{
			Name:      e.name,
			Schedule:  e.schedule,
			Running:   e.running,
			Runs:      e.runs,
			LastRun:   e.lastRun,
			NextRun:   s.cron.Entry(e.cronID).Next,
			LastError: e.lastError,
		})
	}
	return out
}
