// Package queue implements the durable execution path: per-account jobs
// processed in bounded concurrent batches with bounded retries. It trades
// the fast path's wall-clock guarantee for eventual completion.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"SignalCast/internal/broadcast"
	"SignalCast/internal/domain/models"
	"SignalCast/internal/domain/repository"
	"SignalCast/internal/instruments"
	"SignalCast/internal/tokens"
	"SignalCast/pkg/logger"
)

var (
	// ErrNotRunning is returned when enqueueing against a stopped queue.
	ErrNotRunning = errors.New("queue not running")
	// ErrNoAccounts is returned when a signal has no executable accounts.
	ErrNoAccounts = errors.New("no accounts eligible for execution")
)

// Config bounds batch width, per-job time, and retries.
type Config struct {
	Concurrency   int
	PerJobTimeout time.Duration
	MaxRetries    int
}

// signalTally tracks settlement of one signal's jobs.
type signalTally struct {
	open      int
	completed int
	failed    int
}

// Queue is the in-memory durable signal queue. Retried jobs drain ahead of
// fresh ones: a failed job re-enters at the front of the next batch rather
// than behind every waiting job.
type Queue struct {
	signals   repository.SignalStore
	creds     repository.CredentialStore
	broker    repository.Broker
	resolver  *instruments.Resolver
	validator *tokens.Validator
	journal   *broadcast.Journal
	metrics   repository.Metrics
	logger    *logger.Logger
	cfg       Config

	mu         sync.Mutex
	fresh      []*models.ExecutionJob
	retry      []*models.ExecutionJob
	tallies    map[string]*signalTally
	processing int
	completed  int
	failed     int
	isRunning  bool
	loopActive bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(
	signals repository.SignalStore,
	creds repository.CredentialStore,
	broker repository.Broker,
	resolver *instruments.Resolver,
	validator *tokens.Validator,
	journal *broadcast.Journal,
	metrics repository.Metrics,
	lgr *logger.Logger,
	cfg Config,
) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.PerJobTimeout <= 0 {
		cfg.PerJobTimeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		signals:   signals,
		creds:     creds,
		broker:    broker,
		resolver:  resolver,
		validator: validator,
		journal:   journal,
		metrics:   metrics,
		logger:    lgr,
		cfg:       cfg,
		tallies:   make(map[string]*signalTally),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start marks the queue as accepting work.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return fmt.Errorf("queue already running")
	}
	q.isRunning = true
	q.logger.Info("signal queue started",
		logger.Int("concurrency", q.cfg.Concurrency),
		logger.Int("max_retries", q.cfg.MaxRetries))
	return nil
}

// Stop stops accepting work and waits for the in-flight batch to settle.
// Jobs still queued when the wait expires remain queued; they are not
// marked failed.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.mu.Unlock()

	q.cancel()

	doneCh := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		q.logger.Warn("timeout waiting for queue batch", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-doneCh:
		q.logger.Info("signal queue stopped")
		return nil
	}
}

// EnqueueSignal expands a stored signal into one job per currently-valid
// account and schedules them. Returns the number of jobs enqueued.
func (q *Queue) EnqueueSignal(ctx context.Context, signalID string) (int, error) {
	q.mu.Lock()
	running := q.isRunning
	q.mu.Unlock()
	if !running {
		return 0, ErrNotRunning
	}

	sig, err := q.signals.GetSignal(ctx, signalID)
	if err != nil {
		return 0, fmt.Errorf("load signal %s: %w", signalID, err)
	}

	// Resolve the token fresh rather than trusting the stored record; older
	// signals may predate the instrument master the jobs will trade against.
	token, err := q.resolver.Resolve(ctx, sig.Exchange, sig.Symbol)
	if err != nil {
		return 0, fmt.Errorf("resolve instrument %s: %w", sig.Symbol, err)
	}
	sig.InstrumentToken = token

	accountIDs, err := q.creds.ListActiveAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active accounts: %w", err)
	}
	report := q.validator.ValidateMany(ctx, accountIDs)
	if len(report.Valid) == 0 {
		return 0, ErrNoAccounts
	}

	template := models.OrderRequest{
		Symbol:          sig.Symbol,
		InstrumentToken: sig.InstrumentToken,
		Side:            sig.Side,
		Quantity:        sig.Quantity,
		OrderType:       sig.OrderType,
		ProductType:     sig.ProductType,
		Exchange:        sig.Exchange,
	}
	if sig.OrderType == models.OrderTypeLimit {
		template.Price = sig.LimitPrice
	}

	jobs := make([]*models.ExecutionJob, 0, len(report.Valid))
	for accountID := range report.Valid {
		jobs = append(jobs, &models.ExecutionJob{
			ID:        uuid.NewString(),
			SignalID:  sig.ID,
			AccountID: accountID,
			Order:     template,
			Status:    models.JobPending,
			CreatedAt: time.Now().UTC(),
		})
	}

	q.enqueue(jobs)
	return len(jobs), nil
}

// enqueue appends fresh jobs and wakes the processing loop if idle.
func (q *Queue) enqueue(jobs []*models.ExecutionJob) {
	q.mu.Lock()
	for _, j := range jobs {
		q.fresh = append(q.fresh, j)
		t := q.tallies[j.SignalID]
		if t == nil {
			t = &signalTally{}
			q.tallies[j.SignalID] = t
		}
		t.open++
	}
	q.metrics.SetQueueDepth(len(q.fresh) + len(q.retry))

	wake := q.isRunning && !q.loopActive
	if wake {
		q.loopActive = true
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if wake {
		go q.processLoop()
	}
}

// processLoop drains the queue batch by batch until empty, then parks.
// Only one loop runs at a time; enqueue restarts it when new work arrives.
func (q *Queue) processLoop() {
	defer q.wg.Done()

	for {
		batch := q.dequeueBatch()
		if len(batch) == 0 {
			return
		}
		select {
		case <-q.ctx.Done():
			q.requeueFront(batch)
			return
		default:
		}
		q.processBatch(batch)
	}
}

// dequeueBatch takes up to Concurrency jobs, retries first. Returning nil
// also clears the loop-active flag so a later enqueue can restart the loop;
// the two must happen under one lock or a concurrent enqueue is lost.
func (q *Queue) dequeueBatch() []*models.ExecutionJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.cfg.Concurrency
	batch := make([]*models.ExecutionJob, 0, n)

	take := len(q.retry)
	if take > n {
		take = n
	}
	batch = append(batch, q.retry[:take]...)
	q.retry = q.retry[take:]

	if rem := n - len(batch); rem > 0 {
		take = len(q.fresh)
		if take > rem {
			take = rem
		}
		batch = append(batch, q.fresh[:take]...)
		q.fresh = q.fresh[take:]
	}

	if len(batch) == 0 {
		q.loopActive = false
		return nil
	}
	q.processing += len(batch)
	q.metrics.SetQueueDepth(len(q.fresh) + len(q.retry))
	return batch
}

func (q *Queue) requeueFront(batch []*models.ExecutionJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retry = append(batch, q.retry...)
	q.processing -= len(batch)
	q.loopActive = false
	q.metrics.SetQueueDepth(len(q.fresh) + len(q.retry))
}

// processBatch runs one batch concurrently under a deadline proportional to
// its width, so a wedged broker cannot hold the loop longer than the batch's
// worth of per-job budgets.
func (q *Queue) processBatch(batch []*models.ExecutionJob) {
	start := time.Now()
	batchCtx, cancel := context.WithTimeout(q.ctx, q.cfg.PerJobTimeout*time.Duration(len(batch)))
	defer cancel()

	g, gctx := errgroup.WithContext(batchCtx)
	for _, job := range batch {
		job := job
		g.Go(func() error {
			q.processJob(gctx, job)
			return nil
		})
	}
	// Handlers never return errors; Wait is a barrier.
	_ = g.Wait()

	q.metrics.RecordLatency("queue_batch", time.Since(start).Seconds())
}

// credentialFor re-validates one account at processing time. The token that
// was valid at enqueue may have expired while the job waited, so an expired
// credential gets one refresh attempt before the job is failed.
func (q *Queue) credentialFor(ctx context.Context, accountID string) (*models.AccountCredential, error) {
	report := q.validator.ValidateMany(ctx, []string{accountID})
	if cred, ok := report.Valid[accountID]; ok {
		return cred, nil
	}
	if reason, ok := report.Errors[accountID]; ok {
		return nil, errors.New(reason)
	}
	if cred, ok := q.validator.RefreshMany(ctx, []string{accountID})[accountID]; ok {
		return cred, nil
	}
	return nil, errors.New("token expired and refresh failed")
}

// processJob attempts one placement and settles or reschedules the job.
func (q *Queue) processJob(ctx context.Context, job *models.ExecutionJob) {
	job.Status = models.JobProcessing

	cred, err := q.credentialFor(ctx, job.AccountID)
	if err == nil {
		jobCtx, cancel := context.WithTimeout(ctx, q.cfg.PerJobTimeout)
		var ack models.PlacementAck
		ack, err = q.broker.PlaceOrder(jobCtx, cred, job.Order)
		cancel()
		if err == nil {
			q.settleJob(job, &ack, nil)
			return
		}
	}

	job.RetryCount++
	job.LastError = err.Error()

	if job.RetryCount >= q.cfg.MaxRetries {
		q.settleJob(job, nil, err)
		return
	}

	q.logger.Warn("job failed, rescheduling",
		logger.String("job_id", job.ID),
		logger.String("account_id", job.AccountID),
		logger.Int("retry_count", job.RetryCount),
		logger.Error(err))
	q.metrics.RecordError("job_retry")

	q.mu.Lock()
	job.Status = models.JobPending
	q.retry = append(q.retry, job)
	q.processing--
	q.metrics.SetQueueDepth(len(q.fresh) + len(q.retry))
	q.mu.Unlock()
}

// settleJob records the job's terminal state, journals the outcome, and
// updates the parent signal once its last job settles.
func (q *Queue) settleJob(job *models.ExecutionJob, ack *models.PlacementAck, jobErr error) {
	outcome := &models.OrderOutcome{
		SignalID:  job.SignalID,
		AccountID: job.AccountID,
	}
	action := "queue_order_failed"
	detail := ""

	q.mu.Lock()
	q.processing--
	t := q.tallies[job.SignalID]
	if jobErr != nil {
		job.Status = models.JobFailed
		q.failed++
		if t != nil {
			t.failed++
		}
	} else {
		job.Status = models.JobCompleted
		q.completed++
		if t != nil {
			t.completed++
		}
	}
	signalStatus, settled := q.settleSignalLocked(job.SignalID)
	q.mu.Unlock()

	if jobErr != nil {
		outcome.Status = models.OutcomeFailed
		outcome.Error = jobErr.Error()
		detail = jobErr.Error()
		q.metrics.RecordOrder("failed")
	} else {
		now := time.Now().UTC()
		outcome.Status = models.OutcomeExecuted
		outcome.BrokerOrderID = ack.OrderID
		outcome.ExecutedAt = &now
		action = "queue_order_executed"
		detail = ack.OrderID
		q.metrics.RecordOrder("executed")
	}

	q.journal.Record(outcome, &models.AuditEntry{
		Timestamp: time.Now().UTC(),
		Actor:     "queue",
		Action:    action,
		SignalID:  job.SignalID,
		AccountID: job.AccountID,
		Detail:    detail,
	})

	if settled {
		if err := q.signals.UpdateSignalStatus(context.Background(), job.SignalID, signalStatus); err != nil {
			q.logger.Error("signal settle failed",
				logger.String("signal_id", job.SignalID),
				logger.Error(err))
		}
	}
}

// settleSignalLocked decrements the signal's open-job count and, when it
// hits zero, derives the terminal signal status. Caller holds q.mu.
func (q *Queue) settleSignalLocked(signalID string) (models.SignalStatus, bool) {
	t := q.tallies[signalID]
	if t == nil {
		return "", false
	}
	t.open--
	if t.open > 0 {
		return "", false
	}
	delete(q.tallies, signalID)

	switch {
	case t.completed == 0:
		return models.SignalFailed, true
	case t.failed > 0:
		return models.SignalPartial, true
	default:
		return models.SignalExecuted, true
	}
}

// Stats returns a point-in-time snapshot.
func (q *Queue) Stats() models.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := len(q.fresh) + len(q.retry)
	return models.QueueStats{
		QueueLength:  pending + q.processing,
		Pending:      pending,
		Processing:   q.processing,
		Completed:    q.completed,
		Failed:       q.failed,
		IsProcessing: q.loopActive,
	}
}

// Clear drops every queued job that has not started processing. In-flight
// jobs are unaffected. Returns the number of jobs removed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := len(q.fresh) + len(q.retry)
	for _, j := range append(q.fresh, q.retry...) {
		if t := q.tallies[j.SignalID]; t != nil {
			t.open--
			if t.open <= 0 {
				delete(q.tallies, j.SignalID)
			}
		}
	}
	q.fresh = nil
	q.retry = nil
	q.metrics.SetQueueDepth(0)
	q.logger.Info("queue cleared", logger.Int("removed", removed))
	return removed
}
