// Package store provides the in-memory persistence backends. They are the
// default wiring for development and tests; durable outcome and audit
// storage can be layered on ClickHouse or Kafka instead.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"SignalCast/internal/domain/models"
	"SignalCast/internal/domain/repository"
)

// MemorySignals is a thread-safe in-memory SignalStore.
type MemorySignals struct {
	mu      sync.RWMutex
	signals map[string]*models.Signal
}

func NewMemorySignals() *MemorySignals {
	return &MemorySignals{signals: make(map[string]*models.Signal)}
}

func (s *MemorySignals) CreateSignal(_ context.Context, sig *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sig
	s.signals[sig.ID] = &cp
	return nil
}

func (s *MemorySignals) GetSignal(_ context.Context, id string) (*models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *sig
	return &cp, nil
}

func (s *MemorySignals) UpdateSignal(_ context.Context, sig *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[sig.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *sig
	s.signals[sig.ID] = &cp
	return nil
}

func (s *MemorySignals) UpdateSignalStatus(_ context.Context, id string, status models.SignalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return repository.ErrNotFound
	}
	sig.Status = status
	return nil
}

// MemoryCredentials is a thread-safe in-memory CredentialStore.
type MemoryCredentials struct {
	mu    sync.RWMutex
	creds map[string]*models.AccountCredential
}

func NewMemoryCredentials() *MemoryCredentials {
	return &MemoryCredentials{creds: make(map[string]*models.AccountCredential)}
}

func (s *MemoryCredentials) GetCredential(_ context.Context, accountID string) (*models.AccountCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryCredentials) GetCredentials(_ context.Context, accountIDs []string) (map[string]*models.AccountCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.AccountCredential, len(accountIDs))
	for _, id := range accountIDs {
		if c, ok := s.creds[id]; ok {
			cp := *c
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *MemoryCredentials) SaveCredential(_ context.Context, cred *models.AccountCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cred
	s.creds[cred.AccountID] = &cp
	return nil
}

func (s *MemoryCredentials) ListActiveAccounts(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.creds))
	for id, c := range s.creds {
		if c.Active {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryCredentials) ListAccountsNeedingRefresh(_ context.Context, buffer time.Duration) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(buffer)
	var ids []string
	for id, c := range s.creds {
		if !c.Active {
			continue
		}
		if c.AccessToken == "" || c.TokenExpiry == nil || !c.TokenExpiry.After(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// MemoryOutcomes is an append-only in-memory OutcomeStore.
type MemoryOutcomes struct {
	mu       sync.RWMutex
	outcomes []*models.OrderOutcome
}

func NewMemoryOutcomes() *MemoryOutcomes {
	return &MemoryOutcomes{}
}

func (s *MemoryOutcomes) SaveOutcome(_ context.Context, o *models.OrderOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.outcomes = append(s.outcomes, &cp)
	return nil
}

// BySignal returns every stored outcome for one signal.
func (s *MemoryOutcomes) BySignal(signalID string) []*models.OrderOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.OrderOutcome
	for _, o := range s.outcomes {
		if o.SignalID == signalID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out
}

// MemoryAudit is an append-only in-memory AuditLogger.
type MemoryAudit struct {
	mu      sync.RWMutex
	entries []*models.AuditEntry
}

func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{}
}

func (a *MemoryAudit) Append(_ context.Context, e *models.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *e
	a.entries = append(a.entries, &cp)
	return nil
}

// Entries returns a snapshot of the audit trail.
func (a *MemoryAudit) Entries() []*models.AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*models.AuditEntry, len(a.entries))
	for i, e := range a.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

// MemoryInstruments maps "EXCHANGE:SYMBOL" keys to instrument tokens.
type MemoryInstruments struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewMemoryInstruments(seed map[string]string) *MemoryInstruments {
	tokens := make(map[string]string, len(seed))
	for k, v := range seed {
		tokens[strings.ToUpper(k)] = v
	}
	return &MemoryInstruments{tokens: tokens}
}

func (s *MemoryInstruments) LookupToken(_ context.Context, exchange, symbol string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := strings.ToUpper(exchange) + ":" + strings.ToUpper(symbol)
	tok, ok := s.tokens[key]
	if !ok {
		return "", repository.ErrNotFound
	}
	return tok, nil
}

// Load merges instrument mappings into the store.
func (s *MemoryInstruments) Load(mappings map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range mappings {
		s.tokens[strings.ToUpper(k)] = v
	}
}
