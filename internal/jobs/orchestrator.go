// Package jobs runs analysis batches: a bounded worker pool over per-game
// units with durable progress checkpoints, so a restarted orchestrator
// resumes instead of redoing finished work.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blunderlab/coach/internal/notify"
	"github.com/blunderlab/coach/internal/store"
)

// ErrJobConflict is returned when the owner already has an active job of
// the same kind.
var ErrJobConflict = errors.New("job already active for owner and kind")

// ErrFatal wraps unit errors that must abort the whole job, such as the
// engine being unreachable entirely. Anything else is recorded as a unit
// error and the job keeps going.
var ErrFatal = errors.New("fatal job error")

// Runner executes one unit of a job. Implementations must be safe for
// concurrent calls.
type Runner interface {
	RunUnit(ctx context.Context, job store.JobRecord, unitID string) error
}

// Config tunes the orchestrator. Zero values get sensible defaults.
type Config struct {
	Workers int           // concurrent units per job
	Timeout time.Duration // wall clock per job before it is failed
	Logger  zerolog.Logger
}

// Orchestrator owns the which-job-is-active table and drives job
// execution. It is the only writer of job records.
type Orchestrator struct {
	store   store.Store
	sink    notify.Sink
	runner  Runner
	log     zerolog.Logger
	workers int
	timeout time.Duration

	mu     sync.Mutex
	active map[string]*activeJob // keyed owner + kind
	byID   map[string]*activeJob

	wg sync.WaitGroup
}

type activeJob struct {
	id     string
	key    string
	units  []string
	cancel context.CancelFunc
}

func activeKey(owner, kind string) string { return owner + "\x00" + kind }

// New creates an orchestrator over the given store, runner, and sink.
func New(st store.Store, runner Runner, sink notify.Sink, cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	return &Orchestrator{
		store:   st,
		sink:    sink,
		runner:  runner,
		log:     cfg.Logger,
		workers: cfg.Workers,
		timeout: cfg.Timeout,
		active:  map[string]*activeJob{},
		byID:    map[string]*activeJob{},
	}
}

// Submit creates a job for the given units and starts it. It fails
// synchronously with ErrJobConflict if the owner already has an active job
// of this kind, leaving no partial state behind.
func (o *Orchestrator) Submit(ctx context.Context, owner, kind string, units []string) (store.JobRecord, error) {
	if len(units) == 0 {
		return store.JobRecord{}, errors.New("empty batch")
	}

	now := time.Now().UTC()
	job := store.JobRecord{
		ID:        uuid.NewString(),
		Owner:     owner,
		Kind:      kind,
		Status:    store.JobPending,
		Total:     len(units),
		CreatedAt: now,
		UpdatedAt: now,
	}

	o.mu.Lock()
	key := activeKey(owner, kind)
	if _, busy := o.active[key]; busy {
		o.mu.Unlock()
		return store.JobRecord{}, ErrJobConflict
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		o.mu.Unlock()
		return store.JobRecord{}, fmt.Errorf("create job: %w", err)
	}
	o.start(job, units, key)
	o.mu.Unlock()

	return job, nil
}

// Resume restarts an interrupted job. Units already checkpointed as done
// are skipped; only the remainder is processed.
func (o *Orchestrator) Resume(ctx context.Context, jobID string, units []string) (store.JobRecord, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return store.JobRecord{}, err
	}
	if job.Status == store.JobCompleted || job.Status == store.JobFailed {
		return job, nil
	}

	o.mu.Lock()
	key := activeKey(job.Owner, job.Kind)
	if _, busy := o.active[key]; busy {
		o.mu.Unlock()
		return store.JobRecord{}, ErrJobConflict
	}
	o.start(job, units, key)
	o.mu.Unlock()

	return job, nil
}

// start registers the job as active and launches it. Caller holds o.mu.
func (o *Orchestrator) start(job store.JobRecord, units []string, key string) {
	ctx, cancel := context.WithCancel(context.Background())
	aj := &activeJob{id: job.ID, key: key, units: units, cancel: cancel}
	o.active[key] = aj
	o.byID[job.ID] = aj

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(ctx, job, units)
		o.mu.Lock()
		delete(o.active, key)
		delete(o.byID, job.ID)
		o.mu.Unlock()
	}()
}

// Cancel stops dispatching new units for the job. In-flight units finish
// normally so engine processes are never killed mid-evaluation.
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	aj, ok := o.byID[jobID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	aj.cancel()
	return true
}

// Status returns the current job snapshot.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (store.JobRecord, error) {
	return o.store.GetJob(ctx, jobID)
}

// Wait blocks until all active jobs have finished. Used on shutdown and in
// tests.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) run(ctx context.Context, job store.JobRecord, units []string) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	log := o.log.With().Str("job", job.ID).Str("owner", job.Owner).Str("kind", job.Kind).Logger()

	done, err := o.store.DoneUnits(ctx, job.ID)
	if err != nil {
		log.Error().Err(err).Msg("loading checkpoints")
		done = map[string]bool{}
	}
	job.Processed = len(done)
	job.Status = store.JobRunning
	o.checkpoint(ctx, &job)
	o.emit(job)

	type result struct {
		unit string
		err  error
	}
	feed := make(chan string)
	results := make(chan result)

	var workers sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for unit := range feed {
				results <- result{unit: unit, err: o.runner.RunUnit(ctx, job, unit)}
			}
		}()
	}
	go func() {
		defer close(feed)
		for _, unit := range units {
			if done[unit] {
				continue
			}
			select {
			case feed <- unit:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		workers.Wait()
		close(results)
	}()

	fatal := false
	for res := range results {
		if res.err != nil {
			job.UnitErrors++
			job.LastError = res.err.Error()
			log.Warn().Err(res.err).Str("unit", res.unit).Msg("unit failed")
			if errors.Is(res.err, ErrFatal) {
				fatal = true
				cancel()
			}
		}
		job.Processed++
		if err := o.store.MarkUnitDone(ctx, job.ID, res.unit); err != nil {
			log.Error().Err(err).Str("unit", res.unit).Msg("checkpointing unit")
		}
		o.checkpoint(ctx, &job)
		o.emit(job)
	}

	job.FinishedAt = time.Now().UTC()
	switch {
	case fatal:
		job.Status = store.JobFailed
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		job.Status = store.JobFailed
		job.LastError = "job timed out"
	default:
		// Cancellation and clean runs both land here: everything that was
		// dispatched has finished, nothing was lost.
		job.Status = store.JobCompleted
	}
	o.checkpoint(context.Background(), &job)
	o.emit(job)
	log.Info().Str("status", job.Status).Int("processed", job.Processed).
		Int("unit_errors", job.UnitErrors).Msg("job finished")
}

func (o *Orchestrator) checkpoint(ctx context.Context, job *store.JobRecord) {
	job.UpdatedAt = time.Now().UTC()
	if err := o.store.UpdateJob(ctx, *job); err != nil {
		o.log.Error().Err(err).Str("job", job.ID).Msg("persisting job progress")
	}
}

func (o *Orchestrator) emit(job store.JobRecord) {
	if o.sink == nil {
		return
	}
	ev := notify.Event{
		JobID:     job.ID,
		Owner:     job.Owner,
		Kind:      job.Kind,
		Status:    job.Status,
		Processed: job.Processed,
		Total:     job.Total,
		At:        time.Now().UTC(),
	}
	if err := o.sink.Publish(ev); err != nil {
		o.log.Warn().Err(err).Str("job", job.ID).Msg("publishing progress")
	}
}
