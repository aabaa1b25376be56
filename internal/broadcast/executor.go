// Package broadcast implements the fast path: deadline-bounded fan-out of a
// signal as live orders across every currently-valid account.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"SignalCast/internal/domain/models"
	"SignalCast/internal/domain/repository"
	"SignalCast/internal/instruments"
	"SignalCast/internal/tokens"
	"SignalCast/pkg/logger"
)

// Executor prepares a signal and fans out order placement under a global
// deadline with per-account fail-fast sub-deadlines.
type Executor struct {
	signals   repository.SignalStore
	creds     repository.CredentialStore
	broker    repository.Broker
	resolver  *instruments.Resolver
	validator *tokens.Validator
	journal   *Journal
	metrics   repository.Metrics
	logger    *logger.Logger
	cfg       Config
}

func NewExecutor(
	signals repository.SignalStore,
	creds repository.CredentialStore,
	broker repository.Broker,
	resolver *instruments.Resolver,
	validator *tokens.Validator,
	journal *Journal,
	metrics repository.Metrics,
	lgr *logger.Logger,
	cfg Config,
) *Executor {
	if cfg.GlobalDeadline <= 0 {
		cfg.GlobalDeadline = 2000 * time.Millisecond
	}
	if cfg.AccountTimeout <= 0 {
		cfg.AccountTimeout = 500 * time.Millisecond
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &Executor{
		signals:   signals,
		creds:     creds,
		broker:    broker,
		resolver:  resolver,
		validator: validator,
		journal:   journal,
		metrics:   metrics,
		logger:    lgr,
		cfg:       cfg,
	}
}

// Prepare creates the signal record, resolves the instrument token, validates
// the account fleet, and builds the shared order template. A fatal failure
// marks the signal failed and returns ErrPreparation.
func (e *Executor) Prepare(ctx context.Context, req *models.BroadcastRequest) (*Context, error) {
	sig := &models.Signal{
		ID:          uuid.NewString(),
		Symbol:      req.Symbol,
		Quantity:    req.Quantity,
		Side:        models.OrderSide(req.Side),
		OrderType:   models.OrderType(req.OrderType),
		LimitPrice:  req.LimitPrice,
		ProductType: req.ProductType,
		Exchange:    req.Exchange,
		CreatedBy:   req.AdminID,
		CreatedAt:   time.Now().UTC(),
		Status:      models.SignalCreated,
	}

	if err := e.signals.CreateSignal(ctx, sig); err != nil {
		e.metrics.RecordBroadcast("prepare_failed")
		return nil, fmt.Errorf("%w: create signal: %v", ErrPreparation, err)
	}

	token, err := e.resolver.Resolve(ctx, req.Exchange, req.Symbol)
	if err != nil {
		e.abortPreparation(ctx, sig.ID)
		e.metrics.RecordBroadcast("prepare_failed")
		return nil, fmt.Errorf("%w: resolve instrument: %v", ErrPreparation, err)
	}
	sig.InstrumentToken = token
	if err := e.signals.UpdateSignal(ctx, sig); err != nil {
		e.abortPreparation(ctx, sig.ID)
		e.metrics.RecordBroadcast("prepare_failed")
		return nil, fmt.Errorf("%w: persist resolved token: %v", ErrPreparation, err)
	}

	accountIDs, err := e.creds.ListActiveAccounts(ctx)
	if err != nil {
		e.abortPreparation(ctx, sig.ID)
		e.metrics.RecordBroadcast("prepare_failed")
		return nil, fmt.Errorf("%w: list active accounts: %v", ErrPreparation, err)
	}

	report := e.validator.ValidateMany(ctx, accountIDs)

	skipped := make([]models.AccountError, 0, len(report.Expired)+len(report.Errors))
	for _, id := range report.Expired {
		skipped = append(skipped, models.AccountError{AccountID: id, Message: "token expired"})
	}
	for id, reason := range report.Errors {
		skipped = append(skipped, models.AccountError{AccountID: id, Message: reason})
	}

	template := models.OrderRequest{
		Symbol:          req.Symbol,
		InstrumentToken: token,
		Side:            sig.Side,
		Quantity:        req.Quantity,
		OrderType:       sig.OrderType,
		ProductType:     req.ProductType,
		Exchange:        req.Exchange,
	}
	if sig.OrderType == models.OrderTypeLimit {
		template.Price = req.LimitPrice
	}

	return &Context{
		Signal:      sig,
		Credentials: report.Valid,
		Template:    template,
		Skipped:     skipped,
	}, nil
}

// abortPreparation marks an orphaned signal failed so it cannot linger in
// 'created' with no orders behind it.
func (e *Executor) abortPreparation(ctx context.Context, signalID string) {
	if err := e.signals.UpdateSignalStatus(ctx, signalID, models.SignalFailed); err != nil {
		e.logger.Error("abort status update failed",
			logger.String("signal_id", signalID),
			logger.Error(err))
	}
}

// Execute fans the order out to every valid account concurrently and
// aggregates one terminal disposition per account. Successes observed before
// the global deadline fires are preserved; everything else is failed with a
// synthetic timeout error. A late broker reply can never amend a settled
// account: each account's disposition is read from the results channel
// exactly once.
func (e *Executor) Execute(ctx context.Context, bctx *Context) *models.BroadcastResult {
	start := time.Now()

	accountIDs := make([]string, 0, len(bctx.Credentials))
	for id := range bctx.Credentials {
		accountIDs = append(accountIDs, id)
	}
	sort.Strings(accountIDs)

	total := len(accountIDs)
	result := &models.BroadcastResult{
		SignalID:      bctx.Signal.ID,
		TotalAccounts: total,
		Skipped:       bctx.Skipped,
		Timestamp:     time.Now().UTC(),
	}
	if total == 0 {
		result.Elapsed = time.Since(start)
		e.metrics.RecordBroadcast("no_accounts")
		return result
	}

	resCh := make(chan accountOutcome, total)
	for _, id := range accountIDs {
		go func(id string, cred *models.AccountCredential) {
			resCh <- e.placeOne(ctx, bctx, id, cred)
		}(id, bctx.Credentials[id])
	}

	settled := make(map[string]accountOutcome, total)
	timer := time.NewTimer(e.cfg.GlobalDeadline)
	defer timer.Stop()

	deadlineFired := false
collect:
	for len(settled) < total {
		select {
		case o := <-resCh:
			settled[o.accountID] = o
		case <-timer.C:
			deadlineFired = true
			break collect
		}
	}

	for _, id := range accountIDs {
		o, ok := settled[id]
		if !ok {
			// No disposition when the global deadline fired; the in-flight
			// call is abandoned and its eventual result discarded.
			o = accountOutcome{accountID: id, err: errors.New(globalTimeoutMsg)}
		}
		if o.failed() {
			result.Failed++
			result.Errors = append(result.Errors, models.AccountError{AccountID: id, Message: o.message()})
			e.metrics.RecordOrder("failed")
			e.recordOutcome(bctx, id, o)
			continue
		}
		result.Executed++
		e.metrics.RecordOrder("executed")
		e.recordOutcome(bctx, id, o)
	}

	status := models.SignalExecuted
	switch {
	case result.Executed == 0:
		status = models.SignalFailed
	case result.Failed > 0:
		status = models.SignalPartial
	}
	if err := e.signals.UpdateSignalStatus(ctx, bctx.Signal.ID, status); err != nil {
		e.logger.Error("signal status update failed",
			logger.String("signal_id", bctx.Signal.ID),
			logger.Error(err))
	}

	result.Elapsed = time.Since(start)
	e.metrics.RecordLatency("broadcast_execute", result.Elapsed.Seconds())

	switch {
	case deadlineFired:
		e.metrics.RecordBroadcast("deadline_exceeded")
	case result.Failed > 0:
		e.metrics.RecordBroadcast("partial")
	default:
		e.metrics.RecordBroadcast("ok")
	}

	e.logger.Info("broadcast settled",
		logger.String("signal_id", bctx.Signal.ID),
		logger.Int("total", total),
		logger.Int("executed", result.Executed),
		logger.Int("failed", result.Failed),
		logger.Bool("deadline_fired", deadlineFired),
		logger.Duration("elapsed", result.Elapsed))

	return result
}

// placeOne races a single placement against the per-account sub-deadline.
// The broker call gets a cancellable context, but a broker that ignores it
// is simply abandoned: the buffered channel lets the goroutine finish and
// the stale reply is dropped.
func (e *Executor) placeOne(ctx context.Context, bctx *Context, accountID string, cred *models.AccountCredential) accountOutcome {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.AccountTimeout)
	defer cancel()

	type placement struct {
		ack models.PlacementAck
		err error
	}
	callCh := make(chan placement, 1)

	go func() {
		ack, err := e.broker.PlaceOrder(callCtx, cred, bctx.Template)
		callCh <- placement{ack: ack, err: err}
	}()

	timer := time.NewTimer(e.cfg.AccountTimeout)
	defer timer.Stop()

	select {
	case p := <-callCh:
		if p.err != nil {
			return accountOutcome{accountID: accountID, err: p.err}
		}
		return accountOutcome{accountID: accountID, ack: p.ack}
	case <-timer.C:
		return accountOutcome{accountID: accountID, err: errors.New(accountTimeoutMsg)}
	}
}

// recordOutcome schedules the async outcome and audit writes. Never blocks.
func (e *Executor) recordOutcome(bctx *Context, accountID string, o accountOutcome) {
	outcome := &models.OrderOutcome{
		SignalID:  bctx.Signal.ID,
		AccountID: accountID,
	}
	action := "order_failed"
	detail := ""
	if o.failed() {
		outcome.Status = models.OutcomeFailed
		outcome.Error = o.message()
		detail = o.message()
	} else {
		now := time.Now().UTC()
		outcome.Status = models.OutcomeExecuted
		outcome.BrokerOrderID = o.ack.OrderID
		outcome.ExecutedAt = &now
		action = "order_executed"
		detail = o.ack.OrderID
	}

	e.journal.Record(outcome, &models.AuditEntry{
		Timestamp: time.Now().UTC(),
		Actor:     bctx.Signal.CreatedBy,
		Action:    action,
		SignalID:  bctx.Signal.ID,
		AccountID: accountID,
		Detail:    detail,
	})
}

// BroadcastSignal is the prepare-then-execute convenience wrapper.
func (e *Executor) BroadcastSignal(ctx context.Context, req *models.BroadcastRequest) (*models.BroadcastResult, error) {
	bctx, err := e.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, bctx), nil
}
