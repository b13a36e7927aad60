package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/testrelay/testrelay/internal/gate"
	"github.com/testrelay/testrelay/internal/ingest"
	"github.com/testrelay/testrelay/internal/metrics"
	"github.com/testrelay/testrelay/pkg/domain"
)

// Coordinator accepts result records as the producer finishes them,
// dispatches upload tasks (streaming or batched), tracks every task to a
// terminal outcome, and reconciles the final counts at drain time. Submit
// never blocks on network I/O and a failed upload never affects later
// records.
type Coordinator struct {
	api    ingest.API
	gate   *gate.ReadinessGate
	logger *slog.Logger
	now    func() time.Time

	runName           string
	presetRunID       string
	createSession     bool
	batchSize         int
	uploadAttachments bool
	failSilently      bool

	mu         sync.Mutex
	ctx        context.Context
	queue      []domain.ResultRecord
	failures   []domain.FailureRecord
	attempted  int
	resolved   int
	started    time.Time
	sessionErr error

	// wg tracks streaming tasks, size-triggered flushes and async session
	// creation; Drain joins them all before the final flush.
	wg sync.WaitGroup
	// flushMu serializes flushes: a flush must finish pruning the queue
	// before the next one may start removing items.
	flushMu sync.Mutex
}

type Options struct {
	RunName string
	// RunID is the pre-existing session identifier used when CreateSession
	// is false.
	RunID             string
	CreateSession     bool
	BatchSize         int
	UploadAttachments bool
	FailSilently      bool
	Logger            *slog.Logger
	Now               func() time.Time
}

func NewCoordinator(api ingest.API, opts Options) *Coordinator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		api:               api,
		gate:              gate.New(),
		logger:            opts.Logger,
		now:               opts.Now,
		runName:           opts.RunName,
		presetRunID:       opts.RunID,
		createSession:     opts.CreateSession,
		batchSize:         opts.BatchSize,
		uploadAttachments: opts.UploadAttachments,
		failSilently:      opts.FailSilently,
		ctx:               context.Background(),
	}
}

// Begin resolves the readiness gate: immediately when no session is to be
// created, otherwise after the creation request completes (success or
// exhaustion of the transport's retry budget). The gate always resolves.
// With failSilently the creation runs asynchronously and its failure is a
// diagnostic; without it the failure is returned here, to the producer.
func (c *Coordinator) Begin(ctx context.Context) error {
	detached := context.WithoutCancel(ctx)
	c.mu.Lock()
	c.started = c.now()
	c.ctx = detached
	c.mu.Unlock()

	if !c.createSession {
		c.gate.Ready(c.presetRunID)
		return nil
	}

	if c.failSilently {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			_ = c.createRun(detached)
		}()
		return nil
	}
	return c.createRun(ctx)
}

func (c *Coordinator) createRun(ctx context.Context) error {
	resp, err := c.api.CreateRun(ctx, domain.CreateRunRequest{
		Name:      c.runName,
		StartedAt: c.startedAt(),
	})
	if err != nil {
		sessErr := &SessionUnavailableError{Err: err}
		c.mu.Lock()
		c.sessionErr = sessErr
		c.mu.Unlock()
		c.gate.Fail(sessErr)
		metrics.SessionCreationsTotal.WithLabelValues("failure").Inc()
		c.logger.Error("remote session creation failed", "err", err)
		if c.failSilently {
			return nil
		}
		return sessErr
	}
	c.gate.Ready(resp.ID)
	metrics.SessionCreationsTotal.WithLabelValues("success").Inc()
	c.logger.Info("remote session created", "runId", resp.ID)
	return nil
}

// Submit accepts one record and returns without waiting for network I/O.
// In streaming mode it schedules a dedicated upload task; in batched mode
// it queues the record and triggers a flush when the queue reaches the
// batch size.
func (c *Coordinator) Submit(rec domain.ResultRecord) {
	if rec.ExternalID == "" {
		rec.ExternalID = uuid.NewString()
	}

	c.mu.Lock()
	c.attempted++
	taskCtx := c.ctx
	if c.batchSize <= 1 {
		c.mu.Unlock()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runTask(taskCtx, rec)
		}()
		return
	}

	c.queue = append(c.queue, rec)
	var batch []domain.ResultRecord
	if len(c.queue) >= c.batchSize {
		batch = c.takeQueueLocked()
	}
	c.mu.Unlock()

	if len(batch) > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.flush(taskCtx, batch, false)
		}()
	}
}

// flush delivers one extracted batch. On a transport failure the whole
// batch goes back on the queue for the next trigger, except at drain where
// no further trigger exists and the failure becomes terminal for every
// record in the batch.
func (c *Coordinator) flush(ctx context.Context, batch []domain.ResultRecord, final bool) {
	if len(batch) == 0 {
		return
	}
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	runID, err := c.gate.Await(ctx)
	if err != nil {
		for _, rec := range batch {
			c.resolve(rec, failure(err.Error()))
		}
		metrics.BatchFlushesTotal.WithLabelValues("session_failed").Inc()
		metrics.UploadFailuresTotal.WithLabelValues("session").Add(float64(len(batch)))
		return
	}

	outcomes, err := c.uploadRecords(ctx, runID, batch)
	if err != nil {
		metrics.BatchFlushesTotal.WithLabelValues("failure").Inc()
		if final {
			for _, rec := range batch {
				c.resolve(rec, failure(err.Error()))
			}
			metrics.UploadFailuresTotal.WithLabelValues("transport").Add(float64(len(batch)))
			return
		}
		c.requeue(batch)
		c.logger.Warn("batch flush failed; batch requeued", "size", len(batch), "err", err)
		return
	}

	metrics.BatchFlushesTotal.WithLabelValues("success").Inc()
	for i, rec := range batch {
		c.resolve(rec, outcomes[i])
	}
}

// Drain joins every tracked task, performs the final flush of anything
// still queued, and returns the collected failures. It imposes no deadline
// of its own: abandoning a task mid-flight would leave a record without a
// terminal outcome.
func (c *Coordinator) Drain(ctx context.Context) []domain.FailureRecord {
	c.wg.Wait()

	for {
		c.mu.Lock()
		batch := c.takeQueueLocked()
		c.mu.Unlock()
		if len(batch) == 0 {
			break
		}
		c.flush(ctx, batch, true)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.FailureRecord, len(c.failures))
	copy(out, c.failures)
	return out
}

// Finalize combines the producer's raw execution counters with the
// collected upload failures into the reconciled summary and diagnostics.
func (c *Coordinator) Finalize(executed domain.Counts) Report {
	c.mu.Lock()
	attempted := c.attempted
	failures := make([]domain.FailureRecord, len(c.failures))
	copy(failures, c.failures)
	sessionErr := c.sessionErr
	duration := c.now().Sub(c.started)
	c.mu.Unlock()

	return Reconcile(executed, attempted, failures, sessionErr, duration)
}

// RunID returns the remote session identifier once the gate resolved
// successfully.
func (c *Coordinator) RunID() (string, bool) {
	if !c.gate.Resolved() {
		return "", false
	}
	id, err := c.gate.Await(context.Background())
	if err != nil {
		return "", false
	}
	return id, true
}

// Attempted returns how many records have been submitted so far.
func (c *Coordinator) Attempted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempted
}

// Resolved returns how many records have reached a terminal outcome.
func (c *Coordinator) Resolved() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved
}

func (c *Coordinator) resolve(rec domain.ResultRecord, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved++
	if !o.OK {
		c.failures = append(c.failures, domain.FailureRecord{
			Title:  rec.Title,
			Reason: o.Reason,
			Status: rec.Status,
		})
	}
}

func (c *Coordinator) takeQueueLocked() []domain.ResultRecord {
	if len(c.queue) == 0 {
		return nil
	}
	batch := c.queue
	c.queue = nil
	return batch
}

func (c *Coordinator) requeue(batch []domain.ResultRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(batch, c.queue...)
}

func (c *Coordinator) startedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}
