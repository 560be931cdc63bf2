package alcptprep

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
)

// JobKind identifies the work a background job performs. New kinds are
// added by extending this set and the handler table in NewProcessor
// together.
type JobKind string

const (
	JobAudioGeneration   JobKind = "audio_generation"
	JobArabicExplanation JobKind = "arabic_explanation"
	JobBatchProcess      JobKind = "batch_process"
)

// JobPriority orders jobs within a drain: high before medium before low,
// FIFO within a tier.
type JobPriority int

const (
	PriorityLow JobPriority = iota
	PriorityMedium
	PriorityHigh
)

func (p JobPriority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// JobTarget names the question or test a job operates on.
type JobTarget struct {
	QuestionID int
	TestID     int
}

// BackgroundJob is a unit of deferred work. Jobs live only in process
// memory; a restart drops whatever is pending.
type BackgroundJob struct {
	ID        string
	Kind      JobKind
	Target    JobTarget
	Priority  JobPriority
	Retries   int
	CreatedAt time.Time
	NotBefore time.Time

	seq uint64 // assigned on receipt, FIFO tie-break within a priority tier
}

// ProcessorStats is an observability snapshot of the queue.
type ProcessorStats struct {
	Pending     int             `json:"pending"`
	ByKind      map[JobKind]int `json:"byKind"`
	ByPriority  map[string]int  `json:"byPriority"`
	Draining    bool            `json:"draining"`
	DeadLetters int             `json:"deadLetters"`
}

// ProcessorConfig tunes the queue. Zero values fall back to defaults.
type ProcessorConfig struct {
	TickInterval time.Duration // how often a drain is attempted
	MaxRetries   int           // attempts per job before it is dropped
	BaseBackoff  time.Duration // first retry delay, doubled per attempt
}

const deadLetterCap = 100

type jobHandler func(ctx context.Context, job *BackgroundJob) error

type drainResult struct {
	job *BackgroundJob
	err error
}

// Processor runs background artifact generation. All queue state is owned
// by a single coordinating goroutine; callers interact only through
// channels, so no call site touches shared mutable state directly.
type Processor struct {
	store    *Store
	cache    *ArtifactCache
	config   ProcessorConfig
	handlers map[JobKind]jobHandler

	scheduler *gocron.Scheduler

	submitCh chan *BackgroundJob
	statsCh  chan chan ProcessorStats
	tickCh   chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewProcessor creates a processor. Start must be called before jobs run.
func NewProcessor(store *Store, cache *ArtifactCache, config ProcessorConfig) *Processor {
	if config.TickInterval <= 0 {
		config.TickInterval = 5 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = time.Second
	}

	p := &Processor{
		store:    store,
		cache:    cache,
		config:   config,
		submitCh: make(chan *BackgroundJob, 256),
		statsCh:  make(chan chan ProcessorStats),
		tickCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	p.handlers = map[JobKind]jobHandler{
		JobAudioGeneration:   p.handleAudioJob,
		JobArabicExplanation: p.handleExplanationJob,
		JobBatchProcess:      p.handleBatchJob,
	}
	return p
}

// Start launches the coordinating goroutine and the periodic tick.
func (p *Processor) Start() {
	go p.run()

	p.scheduler = gocron.NewScheduler(time.UTC)
	p.scheduler.Every(p.config.TickInterval).Do(p.Tick)
	p.scheduler.StartAsync()
}

// Stop halts the tick and the coordinating goroutine. A job already
// executing finishes in the background.
func (p *Processor) Stop() {
	if p.scheduler != nil {
		p.scheduler.Stop()
	}
	close(p.stopCh)
	<-p.doneCh
}

// Enqueue submits a job and returns its id. The queue does not
// de-duplicate: callers check for an existing artifact first, and the
// handler re-checks at execution time and no-ops if it appeared meanwhile.
// After Stop the job is silently dropped.
func (p *Processor) Enqueue(kind JobKind, target JobTarget, priority JobPriority) string {
	job := &BackgroundJob{
		ID:        uuid.New().String(),
		Kind:      kind,
		Target:    target,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
	select {
	case p.submitCh <- job:
	case <-p.stopCh:
	}
	return job.ID
}

// Tick requests a drain. Dropped if one is already requested.
func (p *Processor) Tick() {
	select {
	case p.tickCh <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of pending work. After Stop it returns an
// empty snapshot instead of blocking on the exited coordinator.
func (p *Processor) Stats() ProcessorStats {
	reply := make(chan ProcessorStats, 1)
	select {
	case p.statsCh <- reply:
		return <-reply
	case <-p.stopCh:
		return statsSnapshot(nil, false, 0)
	}
}

func (p *Processor) run() {
	defer close(p.doneCh)

	var (
		pending  []*BackgroundJob
		dead     []*BackgroundJob
		seq      uint64
		draining bool

		resultCh chan drainResult
	)

	for {
		select {
		case job := <-p.submitCh:
			seq++
			job.seq = seq
			pending = append(pending, job)

		case reply := <-p.statsCh:
			reply <- statsSnapshot(pending, draining, len(dead))

		case <-p.tickCh:
			if draining {
				continue
			}
			now := time.Now()
			var batch, rest []*BackgroundJob
			for _, job := range pending {
				if job.NotBefore.After(now) {
					rest = append(rest, job)
				} else {
					batch = append(batch, job)
				}
			}
			if len(batch) == 0 {
				continue
			}
			sortJobs(batch)
			pending = rest
			draining = true
			resultCh = make(chan drainResult, len(batch))
			go p.drain(batch, resultCh)

		case res, ok := <-resultCh:
			// The drain closes the channel after its last send, so the
			// close is only ever observed once every result has been
			// consumed; no failure can slip past the retry accounting.
			if !ok {
				draining = false
				resultCh = nil
				continue
			}
			if res.err == nil {
				continue
			}
			job := res.job
			job.Retries++
			if job.Retries >= p.config.MaxRetries {
				log.Printf("Job %s (%s) dropped after %d attempts: %v", job.ID, job.Kind, job.Retries, res.err)
				dead = append(dead, job)
				if len(dead) > deadLetterCap {
					dead = dead[len(dead)-deadLetterCap:]
				}
				continue
			}
			backoff := p.config.BaseBackoff << (job.Retries - 1)
			job.NotBefore = time.Now().Add(backoff)
			pending = append(pending, job)
			VerboseLog("Job %s (%s) failed (attempt %d/%d), retrying after %s: %v",
				job.ID, job.Kind, job.Retries, p.config.MaxRetries, backoff, res.err)

		case <-p.stopCh:
			return
		}
	}
}

// drain executes jobs sequentially, one at a time, reporting each outcome
// back to the coordinating goroutine. The channel is buffered for the whole
// batch, so the sends never block even if the coordinator has stopped.
func (p *Processor) drain(jobs []*BackgroundJob, resultCh chan drainResult) {
	defer close(resultCh)
	for _, job := range jobs {
		err := p.execute(context.Background(), job)
		resultCh <- drainResult{job: job, err: err}
	}
}

func (p *Processor) execute(ctx context.Context, job *BackgroundJob) error {
	handler, ok := p.handlers[job.Kind]
	if !ok {
		return fmt.Errorf("unknown job kind: %s", job.Kind)
	}
	return handler(ctx, job)
}

func (p *Processor) handleAudioJob(ctx context.Context, job *BackgroundJob) error {
	q, err := p.store.GetQuestionByID(ctx, job.Target.QuestionID)
	if err != nil {
		return err
	}
	if q.Type() != TypeListening {
		VerboseLog("Question %d is a reading question, skipping audio job", q.ID)
		return nil
	}
	if q.AudioURL != "" {
		VerboseLog("Question %d already has audio, skipping", q.ID)
		return nil
	}
	_, err = p.cache.EnsureAudio(ctx, q.ID)
	return err
}

func (p *Processor) handleExplanationJob(ctx context.Context, job *BackgroundJob) error {
	q, err := p.store.GetQuestionByID(ctx, job.Target.QuestionID)
	if err != nil {
		return err
	}
	if q.Explanation != nil {
		VerboseLog("Question %d already has an explanation, skipping", q.ID)
		return nil
	}
	_, err = p.cache.EnsureExplanation(ctx, q.ID)
	return err
}

// handleBatchJob fans a test out into per-question jobs for whatever
// artifacts are still missing. It calls no collaborators itself.
func (p *Processor) handleBatchJob(ctx context.Context, job *BackgroundJob) error {
	questions, err := p.store.GetQuestionsByTestID(ctx, job.Target.TestID)
	if err != nil {
		return err
	}
	enqueued := 0
	for _, q := range questions {
		if q.Type() == TypeListening && q.AudioURL == "" {
			p.Enqueue(JobAudioGeneration, JobTarget{QuestionID: q.ID}, PriorityLow)
			enqueued++
		}
		if q.Explanation == nil {
			p.Enqueue(JobArabicExplanation, JobTarget{QuestionID: q.ID}, PriorityLow)
			enqueued++
		}
	}
	VerboseLog("Batch job for test %d enqueued %d jobs", job.Target.TestID, enqueued)
	return nil
}

// sortJobs orders by priority tier (high first), then creation order.
func sortJobs(jobs []*BackgroundJob) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].seq < jobs[j].seq
	})
}

func statsSnapshot(pending []*BackgroundJob, draining bool, deadLetters int) ProcessorStats {
	stats := ProcessorStats{
		Pending:     len(pending),
		ByKind:      make(map[JobKind]int),
		ByPriority:  make(map[string]int),
		Draining:    draining,
		DeadLetters: deadLetters,
	}
	for _, job := range pending {
		stats.ByKind[job.Kind]++
		stats.ByPriority[job.Priority.String()]++
	}
	return stats
}
