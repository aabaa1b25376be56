package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"SignalCast/internal/domain/models"
	"SignalCast/internal/domain/repository"
	"SignalCast/internal/instruments"
	"SignalCast/internal/tokens"
	"SignalCast/pkg/logger"
)

type fakeSignalStore struct {
	mu        sync.Mutex
	signals   map[string]*models.Signal
	statuses  map[string]models.SignalStatus
	createErr error
}

func newFakeSignalStore() *fakeSignalStore {
	return &fakeSignalStore{
		signals:  make(map[string]*models.Signal),
		statuses: make(map[string]models.SignalStatus),
	}
}

func (s *fakeSignalStore) CreateSignal(_ context.Context, sig *models.Signal) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sig
	s.signals[sig.ID] = &cp
	s.statuses[sig.ID] = sig.Status
	return nil
}

func (s *fakeSignalStore) GetSignal(_ context.Context, id string) (*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *sig
	cp.Status = s.statuses[id]
	return &cp, nil
}

func (s *fakeSignalStore) UpdateSignal(_ context.Context, sig *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[sig.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *sig
	s.signals[sig.ID] = &cp
	return nil
}

func (s *fakeSignalStore) UpdateSignalStatus(_ context.Context, id string, status models.SignalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[id]; !ok {
		return repository.ErrNotFound
	}
	s.statuses[id] = status
	return nil
}

func (s *fakeSignalStore) status(id string) models.SignalStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

type fakeCredStore struct {
	mu    sync.Mutex
	creds map[string]*models.AccountCredential
}

func newFakeCredStore(creds ...*models.AccountCredential) *fakeCredStore {
	s := &fakeCredStore{creds: make(map[string]*models.AccountCredential)}
	for _, c := range creds {
		s.creds[c.AccountID] = c
	}
	return s
}

func (s *fakeCredStore) GetCredential(_ context.Context, id string) (*models.AccountCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (s *fakeCredStore) GetCredentials(_ context.Context, ids []string) (map[string]*models.AccountCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.AccountCredential, len(ids))
	for _, id := range ids {
		if c, ok := s.creds[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (s *fakeCredStore) SaveCredential(_ context.Context, cred *models.AccountCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.AccountID] = cred
	return nil
}

func (s *fakeCredStore) ListActiveAccounts(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, c := range s.creds {
		if c.Active {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeCredStore) ListAccountsNeedingRefresh(context.Context, time.Duration) ([]string, error) {
	return nil, nil
}

// fakeBroker lets each test script per-account placement behavior.
type fakeBroker struct {
	mu       sync.Mutex
	delays   map[string]time.Duration
	errs     map[string]error
	placed   map[string]int
	respects bool // whether delayed calls bail out on ctx cancellation
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		delays: make(map[string]time.Duration),
		errs:   make(map[string]error),
		placed: make(map[string]int),
	}
}

func (b *fakeBroker) Authenticate(context.Context, *models.AccountCredential, string, string) error {
	return nil
}

func (b *fakeBroker) PlaceOrder(ctx context.Context, cred *models.AccountCredential, _ models.OrderRequest) (models.PlacementAck, error) {
	b.mu.Lock()
	delay := b.delays[cred.AccountID]
	err := b.errs[cred.AccountID]
	b.placed[cred.AccountID]++
	b.mu.Unlock()

	if delay > 0 {
		if b.respects {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return models.PlacementAck{}, ctx.Err()
			}
		} else {
			time.Sleep(delay)
		}
	}
	if err != nil {
		return models.PlacementAck{}, err
	}
	return models.PlacementAck{OrderID: "ord-" + cred.AccountID, Status: models.OutcomeExecuted}, nil
}

func (b *fakeBroker) GetOrderBook(context.Context, *models.AccountCredential) ([]models.OrderEntry, error) {
	return nil, nil
}

func (b *fakeBroker) GetTradeBook(context.Context, *models.AccountCredential) ([]models.TradeEntry, error) {
	return nil, nil
}

func (b *fakeBroker) RefreshToken(_ context.Context, cred *models.AccountCredential) (*models.AccountCredential, error) {
	return cred, nil
}

type fakeOutcomeStore struct {
	mu       sync.Mutex
	outcomes []*models.OrderOutcome
}

func (s *fakeOutcomeStore) SaveOutcome(_ context.Context, o *models.OrderOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.outcomes = append(s.outcomes, &cp)
	return nil
}

func (s *fakeOutcomeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}

type fakeAuditLogger struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
}

func (a *fakeAuditLogger) Append(_ context.Context, e *models.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *e
	a.entries = append(a.entries, &cp)
	return nil
}

type fakeInstrumentStore struct {
	tokens map[string]string
}

func (s *fakeInstrumentStore) LookupToken(_ context.Context, exchange, symbol string) (string, error) {
	tok, ok := s.tokens[exchange+":"+symbol]
	if !ok {
		return "", repository.ErrNotFound
	}
	return tok, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordBroadcast(string)        {}
func (nopMetrics) RecordOrder(string)            {}
func (nopMetrics) RecordTokenRefresh(string)     {}
func (nopMetrics) SetQueueDepth(int)             {}
func (nopMetrics) RecordLatency(string, float64) {}
func (nopMetrics) RecordError(string)            {}

func validCred(id string) *models.AccountCredential {
	exp := time.Now().Add(4 * time.Hour)
	return &models.AccountCredential{
		AccountID:   id,
		AccessToken: "tok-" + id,
		TokenExpiry: &exp,
		Active:      true,
	}
}

func expiredCred(id string) *models.AccountCredential {
	exp := time.Now().Add(5 * time.Minute)
	return &models.AccountCredential{
		AccountID:   id,
		AccessToken: "tok-" + id,
		TokenExpiry: &exp,
		Active:      true,
	}
}

type fixture struct {
	exec     *Executor
	signals  *fakeSignalStore
	broker   *fakeBroker
	outcomes *fakeOutcomeStore
	audit    *fakeAuditLogger
	journal  *Journal
}

func newFixture(t *testing.T, cfg Config, creds ...*models.AccountCredential) *fixture {
	t.Helper()
	signals := newFakeSignalStore()
	credStore := newFakeCredStore(creds...)
	broker := newFakeBroker()
	outcomes := &fakeOutcomeStore{}
	audit := &fakeAuditLogger{}
	m := nopMetrics{}

	resolver := instruments.NewResolver(
		&fakeInstrumentStore{tokens: map[string]string{"NSE:RELIANCE": "2885"}},
		instruments.NewMemoryCache(), logger.Nop(), time.Minute)
	validator := tokens.NewValidator(credStore, broker, m, logger.Nop(), tokens.ValidatorConfig{})
	journal := NewJournal(outcomes, audit, m, logger.Nop(), 64)

	exec := NewExecutor(signals, credStore, broker, resolver, validator, journal, m, logger.Nop(), cfg)
	return &fixture{exec: exec, signals: signals, broker: broker, outcomes: outcomes, audit: audit, journal: journal}
}

func marketRequest() *models.BroadcastRequest {
	return &models.BroadcastRequest{
		AdminID:     "admin-1",
		Symbol:      "RELIANCE",
		Quantity:    10,
		Side:        "BUY",
		OrderType:   "MARKET",
		ProductType: "DELIVERY",
		Exchange:    "NSE",
	}
}

func TestPrepareStoresResolvedToken(t *testing.T) {
	cfg := Config{GlobalDeadline: 500 * time.Millisecond, AccountTimeout: 100 * time.Millisecond}
	f := newFixture(t, cfg, validCred("acc-1"))

	bctx, err := f.exec.Prepare(context.Background(), marketRequest())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	// The queue replays signals from the store, so the persisted record must
	// carry the resolved token, not just the in-memory broadcast context.
	stored, err := f.signals.GetSignal(context.Background(), bctx.Signal.ID)
	if err != nil {
		t.Fatalf("GetSignal: %v", err)
	}
	if stored.InstrumentToken != "2885" {
		t.Errorf("stored InstrumentToken = %q, want 2885", stored.InstrumentToken)
	}
}

func TestBroadcastAllExecute(t *testing.T) {
	cfg := Config{GlobalDeadline: 500 * time.Millisecond, AccountTimeout: 100 * time.Millisecond}
	f := newFixture(t, cfg, validCred("acc-1"), validCred("acc-2"), validCred("acc-3"))

	res, err := f.exec.BroadcastSignal(context.Background(), marketRequest())
	if err != nil {
		t.Fatalf("BroadcastSignal: %v", err)
	}
	if res.TotalAccounts != 3 || res.Executed != 3 || res.Failed != 0 {
		t.Fatalf("got total=%d executed=%d failed=%d, want 3/3/0",
			res.TotalAccounts, res.Executed, res.Failed)
	}
	if got := f.signals.status(res.SignalID); got != models.SignalExecuted {
		t.Errorf("signal status = %q, want %q", got, models.SignalExecuted)
	}

	f.journal.Close()
	if n := f.outcomes.count(); n != 3 {
		t.Errorf("persisted outcomes = %d, want 3", n)
	}
}

func TestBroadcastPartialFailure(t *testing.T) {
	cfg := Config{GlobalDeadline: 500 * time.Millisecond, AccountTimeout: 100 * time.Millisecond}
	f := newFixture(t, cfg, validCred("acc-1"), validCred("acc-2"))
	f.broker.errs["acc-2"] = errors.New("insufficient margin")

	res, err := f.exec.BroadcastSignal(context.Background(), marketRequest())
	if err != nil {
		t.Fatalf("BroadcastSignal: %v", err)
	}
	if res.Executed != 1 || res.Failed != 1 {
		t.Fatalf("got executed=%d failed=%d, want 1/1", res.Executed, res.Failed)
	}
	if len(res.Errors) != 1 || res.Errors[0].AccountID != "acc-2" {
		t.Fatalf("errors = %+v, want single entry for acc-2", res.Errors)
	}
	if !strings.Contains(res.Errors[0].Message, "insufficient margin") {
		t.Errorf("error message = %q, want broker error preserved", res.Errors[0].Message)
	}
	if got := f.signals.status(res.SignalID); got != models.SignalPartial {
		t.Errorf("signal status = %q, want %q", got, models.SignalPartial)
	}
}

func TestAccountTimeoutDoesNotStallOthers(t *testing.T) {
	cfg := Config{GlobalDeadline: 2 * time.Second, AccountTimeout: 50 * time.Millisecond}
	f := newFixture(t, cfg, validCred("acc-fast"), validCred("acc-slow"))
	f.broker.delays["acc-slow"] = 300 * time.Millisecond
	f.broker.respects = true

	start := time.Now()
	res, err := f.exec.BroadcastSignal(context.Background(), marketRequest())
	if err != nil {
		t.Fatalf("BroadcastSignal: %v", err)
	}
	if res.Executed != 1 || res.Failed != 1 {
		t.Fatalf("got executed=%d failed=%d, want 1/1", res.Executed, res.Failed)
	}
	if res.Errors[0].AccountID != "acc-slow" || res.Errors[0].Message != accountTimeoutMsg {
		t.Errorf("errors = %+v, want acc-slow with %q", res.Errors, accountTimeoutMsg)
	}
	// The slow account settles at its own sub-deadline, well before the
	// scripted 300ms delay would finish.
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("broadcast took %v, timeout did not fail fast", elapsed)
	}
}

func TestGlobalDeadlineFailsUnsettledAccounts(t *testing.T) {
	cfg := Config{GlobalDeadline: 100 * time.Millisecond, AccountTimeout: 400 * time.Millisecond}
	f := newFixture(t, cfg, validCred("acc-1"), validCred("acc-2"), validCred("acc-3"))
	for _, id := range []string{"acc-1", "acc-2", "acc-3"} {
		f.broker.delays[id] = 300 * time.Millisecond
	}
	f.broker.respects = true

	res, err := f.exec.BroadcastSignal(context.Background(), marketRequest())
	if err != nil {
		t.Fatalf("BroadcastSignal: %v", err)
	}
	if res.Failed != res.TotalAccounts {
		t.Fatalf("failed = %d, want all %d accounts", res.Failed, res.TotalAccounts)
	}
	for _, ae := range res.Errors {
		if ae.Message != globalTimeoutMsg {
			t.Errorf("account %s message = %q, want %q", ae.AccountID, ae.Message, globalTimeoutMsg)
		}
	}
	if got := f.signals.status(res.SignalID); got != models.SignalFailed {
		t.Errorf("signal status = %q, want %q", got, models.SignalFailed)
	}
}

func TestGlobalDeadlinePreservesEarlySuccesses(t *testing.T) {
	cfg := Config{GlobalDeadline: 150 * time.Millisecond, AccountTimeout: 400 * time.Millisecond}
	f := newFixture(t, cfg, validCred("acc-quick"), validCred("acc-stuck"))
	f.broker.delays["acc-stuck"] = 500 * time.Millisecond
	f.broker.respects = true

	res, err := f.exec.BroadcastSignal(context.Background(), marketRequest())
	if err != nil {
		t.Fatalf("BroadcastSignal: %v", err)
	}
	if res.Executed != 1 {
		t.Fatalf("executed = %d, want the pre-deadline success kept", res.Executed)
	}
	if res.Failed != 1 || res.Errors[0].AccountID != "acc-stuck" {
		t.Fatalf("errors = %+v, want acc-stuck failed", res.Errors)
	}
	if res.Executed+res.Failed != res.TotalAccounts {
		t.Errorf("executed+failed = %d, want %d", res.Executed+res.Failed, res.TotalAccounts)
	}
}

func TestPrepareUnknownSymbolMarksSignalFailed(t *testing.T) {
	cfg := Config{GlobalDeadline: 500 * time.Millisecond, AccountTimeout: 100 * time.Millisecond}
	f := newFixture(t, cfg, validCred("acc-1"))

	req := marketRequest()
	req.Symbol = "NOSUCH"
	_, err := f.exec.BroadcastSignal(context.Background(), req)
	if !errors.Is(err, ErrPreparation) {
		t.Fatalf("err = %v, want ErrPreparation", err)
	}

	f.signals.mu.Lock()
	defer f.signals.mu.Unlock()
	if len(f.signals.statuses) != 1 {
		t.Fatalf("signals created = %d, want 1", len(f.signals.statuses))
	}
	for id, status := range f.signals.statuses {
		if status != models.SignalFailed {
			t.Errorf("signal %s status = %q, want %q", id, status, models.SignalFailed)
		}
	}
}

func TestPrepareSkipsInvalidCredentials(t *testing.T) {
	cfg := Config{GlobalDeadline: 500 * time.Millisecond, AccountTimeout: 100 * time.Millisecond}
	f := newFixture(t, cfg, validCred("acc-good"), expiredCred("acc-expiring"))

	bctx, err := f.exec.Prepare(context.Background(), marketRequest())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(bctx.Credentials) != 1 {
		t.Fatalf("valid credentials = %d, want 1", len(bctx.Credentials))
	}
	if len(bctx.Skipped) != 1 || bctx.Skipped[0].AccountID != "acc-expiring" {
		t.Fatalf("skipped = %+v, want acc-expiring only", bctx.Skipped)
	}
	if bctx.Skipped[0].Message != "token expired" {
		t.Errorf("skip message = %q, want %q", bctx.Skipped[0].Message, "token expired")
	}

	res := f.exec.Execute(context.Background(), bctx)
	if res.TotalAccounts != 1 {
		t.Errorf("total accounts = %d, want only executing accounts counted", res.TotalAccounts)
	}
	if len(res.Skipped) != 1 {
		t.Errorf("skipped carried = %d, want 1", len(res.Skipped))
	}
}

func TestLimitOrderCarriesPrice(t *testing.T) {
	cfg := Config{GlobalDeadline: 500 * time.Millisecond, AccountTimeout: 100 * time.Millisecond}
	f := newFixture(t, cfg, validCred("acc-1"))

	req := marketRequest()
	req.OrderType = "LIMIT"
	req.LimitPrice = 2450.50
	bctx, err := f.exec.Prepare(context.Background(), req)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if bctx.Template.OrderType != models.OrderTypeLimit || bctx.Template.Price != 2450.50 {
		t.Errorf("template = %+v, want limit order at 2450.50", bctx.Template)
	}
	if bctx.Template.InstrumentToken != "2885" {
		t.Errorf("instrument token = %q, want resolved 2885", bctx.Template.InstrumentToken)
	}
}
