package broadcast

import (
	"context"
	"sync"
	"time"

	"SignalCast/internal/domain/models"
	"SignalCast/internal/domain/repository"
	"SignalCast/pkg/logger"
)

// journalEntry pairs an order outcome with its audit record.
type journalEntry struct {
	outcome *models.OrderOutcome
	audit   *models.AuditEntry
}

// Journal persists order outcomes and audit entries off the hot path. Record
// never blocks and never fails the caller: a full buffer drops the entry with
// an error metric, and write failures are reported to observability only.
type Journal struct {
	outcomes repository.OutcomeStore
	audit    repository.AuditLogger
	metrics  repository.Metrics
	logger   *logger.Logger

	ch     chan journalEntry
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func NewJournal(outcomes repository.OutcomeStore, audit repository.AuditLogger, metrics repository.Metrics, lgr *logger.Logger, buffer int) *Journal {
	if buffer <= 0 {
		buffer = 1000
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	j := &Journal{
		outcomes: outcomes,
		audit:    audit,
		metrics:  metrics,
		logger:   lgr,
		ch:       make(chan journalEntry, buffer),
		stopCh:   make(chan struct{}),
	}
	j.wg.Add(1)
	go j.flush()
	return j
}

// Record enqueues an outcome and audit pair without blocking.
func (j *Journal) Record(outcome *models.OrderOutcome, audit *models.AuditEntry) {
	select {
	case j.ch <- journalEntry{outcome: outcome, audit: audit}:
	default:
		j.metrics.RecordError("journal_buffer_full")
	}
}

func (j *Journal) flush() {
	defer j.wg.Done()

	for {
		select {
		case e := <-j.ch:
			j.write(e)
		case <-j.stopCh:
			// Drain what is already buffered, then exit.
			for {
				select {
				case e := <-j.ch:
					j.write(e)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(e journalEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if e.outcome != nil {
		if err := j.outcomes.SaveOutcome(ctx, e.outcome); err != nil {
			j.metrics.RecordError("journal_outcome_write")
			j.logger.Error("outcome write failed",
				logger.String("signal_id", e.outcome.SignalID),
				logger.String("account_id", e.outcome.AccountID),
				logger.Error(err))
		}
	}
	if e.audit != nil {
		if err := j.audit.Append(ctx, e.audit); err != nil {
			j.metrics.RecordError("journal_audit_write")
			j.logger.Error("audit write failed",
				logger.String("signal_id", e.audit.SignalID),
				logger.Error(err))
		}
	}
}

// Close stops the flusher after draining buffered entries.
func (j *Journal) Close() {
	j.once.Do(func() {
		close(j.stopCh)
	})
	j.wg.Wait()
}
