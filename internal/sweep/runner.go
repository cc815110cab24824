// Package sweep triggers the engine's batch operations on fixed intervals.
// The operations themselves are idempotent; the runner only decides when
// they run.
package sweep

import (
	"context"
	"log"
	gosync "sync"
	"time"
)

// State is the current state of a job.
type State int

const (
	Idle State = iota
	Running
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Failed:
		return "failed"
	}
	return "idle"
}

// Job is one periodic batch operation. Run returns a one-line summary of
// what the pass did.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (string, error)
}

// Status holds the run state for a single job.
type Status struct {
	Job     string
	State   State
	LastRun time.Time
	Runs    int
	Summary string
	Error   error
}

// Result is emitted after every pass of a job.
type Result struct {
	Job      string
	Summary  string
	Error    error
	Finished time.Time
}

// runTimeout is the maximum time allowed for a single pass.
const runTimeout = 2 * time.Minute

// defaultInterval applies to jobs registered without an interval.
const defaultInterval = 5 * time.Minute

type jobEntry struct {
	job     Job
	trigger chan struct{}
}

// Runner orchestrates the periodic passes of registered jobs.
type Runner struct {
	jobs     []*jobEntry
	statuses map[string]*Status
	resultCh chan Result
	stopCh   chan struct{}
	wg       gosync.WaitGroup
	now      func() time.Time
	mu       gosync.Mutex
	running  bool
}

// New creates a Runner. A nil now uses time.Now.
func New(now func() time.Time) *Runner {
	if now == nil {
		now = time.Now
	}
	return &Runner{
		statuses: make(map[string]*Status),
		resultCh: make(chan Result, 16),
		stopCh:   make(chan struct{}),
		now:      now,
	}
}

// Register adds a job. Jobs registered after Start are not run.
func (r *Runner) Register(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.Interval <= 0 {
		job.Interval = defaultInterval
	}
	r.jobs = append(r.jobs, &jobEntry{job: job, trigger: make(chan struct{}, 1)})
	r.statuses[job.Name] = &Status{Job: job.Name, State: Idle}
}

// Start launches one loop per job. Each job runs once immediately and
// then on its interval until ctx is done or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	jobs := make([]*jobEntry, len(r.jobs))
	copy(jobs, r.jobs)
	r.mu.Unlock()

	for _, entry := range jobs {
		r.wg.Add(1)
		go r.loop(ctx, entry)
	}
}

// Stop halts all job loops and waits for in-flight passes to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.stopCh)
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
}

// Trigger asks for an immediate pass of the named job. It reports false
// for an unknown job. A pass already pending absorbs the trigger.
func (r *Runner) Trigger(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.jobs {
		if entry.job.Name != name {
			continue
		}
		select {
		case entry.trigger <- struct{}{}:
		default:
		}
		return true
	}
	return false
}

// Results delivers one Result per finished pass. Results are dropped
// when nobody keeps up with the channel.
func (r *Runner) Results() <-chan Result {
	return r.resultCh
}

// Statuses returns the current status of all jobs in registration order.
func (r *Runner) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Status, 0, len(r.jobs))
	for _, entry := range r.jobs {
		out = append(out, *r.statuses[entry.job.Name])
	}
	return out
}

func (r *Runner) loop(ctx context.Context, entry *jobEntry) {
	defer r.wg.Done()

	ticker := time.NewTicker(entry.job.Interval)
	defer ticker.Stop()

	r.runOnce(ctx, entry.job)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runOnce(ctx, entry.job)
		case <-entry.trigger:
			r.runOnce(ctx, entry.job)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	r.setStatus(job.Name, Running, "", nil)

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	summary, err := job.Run(runCtx)
	if err != nil {
		log.Printf("sweep: %s: %v", job.Name, err)
		r.setStatus(job.Name, Failed, summary, err)
	} else {
		r.setStatus(job.Name, Idle, summary, nil)
	}

	select {
	case r.resultCh <- Result{Job: job.Name, Summary: summary, Error: err, Finished: r.now()}:
	default:
	}
}

func (r *Runner) setStatus(name string, state State, summary string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.statuses[name]
	if !ok {
		return
	}
	st.State = state
	if state == Running {
		return
	}
	st.Runs++
	st.LastRun = r.now()
	st.Summary = summary
	st.Error = err
}
