package repository

import (
	"context"
	"errors"
	"time"

	"SignalCast/internal/domain/models"
)

// ErrNotFound is returned by stores when an entity does not exist.
var ErrNotFound = errors.New("not found")

// SignalStore persists broadcast signals.
type SignalStore interface {
	CreateSignal(ctx context.Context, s *models.Signal) error
	GetSignal(ctx context.Context, id string) (*models.Signal, error)
	UpdateSignal(ctx context.Context, s *models.Signal) error
	UpdateSignalStatus(ctx context.Context, id string, status models.SignalStatus) error
}

// CredentialStore owns per-account brokerage credentials. Credentials are
// written back only after a successful refresh or authentication.
type CredentialStore interface {
	GetCredential(ctx context.Context, accountID string) (*models.AccountCredential, error)
	// GetCredentials is the bulk read used by sub-batched validation. Missing
	// accounts are simply absent from the returned map, not an error.
	GetCredentials(ctx context.Context, accountIDs []string) (map[string]*models.AccountCredential, error)
	SaveCredential(ctx context.Context, cred *models.AccountCredential) error
	ListActiveAccounts(ctx context.Context) ([]string, error)
	// ListAccountsNeedingRefresh returns active accounts whose token is
	// missing or expires within the buffer.
	ListAccountsNeedingRefresh(ctx context.Context, buffer time.Duration) ([]string, error)
}

// OutcomeStore persists one terminal disposition per (signal, account) pair.
type OutcomeStore interface {
	SaveOutcome(ctx context.Context, o *models.OrderOutcome) error
}

// AuditLogger appends audit trail records.
type AuditLogger interface {
	Append(ctx context.Context, e *models.AuditEntry) error
}

// InstrumentStore resolves trading symbols to instrument tokens.
type InstrumentStore interface {
	LookupToken(ctx context.Context, exchange, symbol string) (string, error)
}

// Broker is the abstract brokerage adapter. Implementations wrap one
// brokerage's wire protocol; the engine never sees protocol details.
type Broker interface {
	Authenticate(ctx context.Context, cred *models.AccountCredential, otp, accountID string) error
	PlaceOrder(ctx context.Context, cred *models.AccountCredential, req models.OrderRequest) (models.PlacementAck, error)
	GetOrderBook(ctx context.Context, cred *models.AccountCredential) ([]models.OrderEntry, error)
	GetTradeBook(ctx context.Context, cred *models.AccountCredential) ([]models.TradeEntry, error)
	RefreshToken(ctx context.Context, cred *models.AccountCredential) (*models.AccountCredential, error)
}

// Metrics records operational counters for observability.
type Metrics interface {
	RecordBroadcast(result string)
	RecordOrder(status string)
	RecordTokenRefresh(result string)
	SetQueueDepth(n int)
	RecordLatency(op string, seconds float64)
	RecordError(kind string)
}
