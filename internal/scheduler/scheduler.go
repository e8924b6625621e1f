// Package scheduler runs pipelines on cron schedules. A job never overlaps
// with itself: a trigger that fires while the previous run is still going is
// skipped.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one scheduled unit of work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a named function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (j JobFunc) Name() string                  { return j.JobName }
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

const (
	stateIdle int32 = iota
	stateRunning
)

// entry is one registration. state is shared by every registration of the
// same name, so a run started before a re-registration still blocks triggers
// of its successor.
type entry struct {
	job   Job
	spec  string
	id    cron.EntryID
	state *atomic.Int32
}

// Scheduler manages background jobs
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	mu      sync.Mutex
	entries map[string]*entry
	log     zerolog.Logger
}

// Specs accept an optional seconds field and descriptors such as "@hourly".
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New creates a scheduler whose jobs run with ctx.
func New(ctx context.Context, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		ctx:     ctx,
		entries: make(map[string]*entry),
		log:     log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.Jobs())).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers job under its name, replacing any job of the same name.
// Schedule examples:
//   - "*/30 * * * *"       - Every 30 minutes
//   - "0 */5 * * * *"      - Every 5 minutes, with seconds
//   - "@hourly"            - Every hour
//   - "0 9 * * MON-FRI"    - 9 AM weekdays
func (s *Scheduler) AddJob(spec string, job Job) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name(), spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var state *atomic.Int32
	if old, ok := s.entries[job.Name()]; ok {
		s.cron.Remove(old.id)
		state = old.state
	}
	return s.addLocked(spec, job, state)
}

func (s *Scheduler) addLocked(spec string, job Job, state *atomic.Int32) error {
	if state == nil {
		state = new(atomic.Int32)
	}
	e := &entry{job: job, spec: spec, state: state}
	id, err := s.cron.AddFunc(spec, func() { s.trigger(e) })
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Name(), err)
	}
	e.id = id
	s.entries[job.Name()] = e

	s.log.Info().
		Str("schedule", spec).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// Replace swaps the registered jobs for specs (job name to cron spec). Names
// without a job from build are skipped with a warning. On error the previous
// jobs stay registered. A job that is running keeps blocking its name until
// it finishes.
func (s *Scheduler) Replace(specs map[string]string, build func(name string) (Job, bool)) error {
	for name, spec := range specs {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("job %s: invalid schedule %q: %w", name, spec, err)
		}
	}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	type pending struct {
		spec string
		job  Job
	}
	jobs := make([]pending, 0, len(names))
	for _, name := range names {
		job, ok := build(name)
		if !ok {
			s.log.Warn().Str("job", name).Msg("no pipeline for scheduled job, skipping")
			continue
		}
		jobs = append(jobs, pending{spec: specs[name], job: job})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	states := make(map[string]*atomic.Int32, len(s.entries))
	for name, e := range s.entries {
		s.cron.Remove(e.id)
		states[name] = e.state
		delete(s.entries, name)
	}
	for _, p := range jobs {
		if err := s.addLocked(p.spec, p.job, states[p.job.Name()]); err != nil {
			return err
		}
	}
	return nil
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow runs the named job immediately unless it is already running. It
// reports whether the job ran.
func (s *Scheduler) RunNow(name string) (bool, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("job %s not registered", name)
	}
	return s.trigger(e)
}

func (s *Scheduler) trigger(e *entry) (bool, error) {
	name := e.job.Name()
	if !e.state.CompareAndSwap(stateIdle, stateRunning) {
		s.log.Warn().Str("job", name).Msg("Previous run still in progress, skipping trigger")
		return false, nil
	}
	defer e.state.Store(stateIdle)

	s.log.Debug().Str("job", name).Msg("Running job")
	if err := e.job.Run(s.ctx); err != nil {
		s.log.Error().
			Err(err).
			Str("job", name).
			Msg("Job failed")
		return true, err
	}
	s.log.Debug().Str("job", name).Msg("Job completed")
	return true, nil
}
