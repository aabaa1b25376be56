package models

import (
	"encoding/json"
	"time"
)

// OrderSide is the direction of a broadcast order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType selects market or limit execution.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// SignalStatus tracks the lifecycle of a broadcast signal.
type SignalStatus string

const (
	SignalCreated  SignalStatus = "created"
	SignalExecuted SignalStatus = "executed"
	SignalPartial  SignalStatus = "partial"
	SignalFailed   SignalStatus = "failed"
)

// Signal is a single trading decision to be fanned out to accounts.
// The fast path never mutates it after creation; the durable queue may
// update Status once every derived job has settled.
type Signal struct {
	ID              string
	Symbol          string
	InstrumentToken string
	Quantity        int
	Side            OrderSide
	OrderType       OrderType
	LimitPrice      float64 // required iff OrderType == LIMIT
	ProductType     string
	Exchange        string
	CreatedBy       string
	CreatedAt       time.Time
	Status          SignalStatus
}

// AccountCredential is one account's brokerage credential set.
// Written only after a successful refresh or authentication.
type AccountCredential struct {
	AccountID    string
	APIKey       string
	PIN          string
	AccessToken  string
	RefreshToken string
	TokenExpiry  *time.Time
	Active       bool
	LastUsedAt   *time.Time
}

// OrderRequest is the immutable per-broadcast order template. One copy is
// built at preparation time and shared read-only by every account task.
type OrderRequest struct {
	Symbol          string
	InstrumentToken string
	Side            OrderSide
	Quantity        int
	Price           float64
	OrderType       OrderType
	ProductType     string
	Exchange        string
}

// OutcomeStatus is the terminal disposition of one (signal, account) pair.
type OutcomeStatus string

const (
	OutcomePending  OutcomeStatus = "pending"
	OutcomeExecuted OutcomeStatus = "executed"
	OutcomeFailed   OutcomeStatus = "failed"
)

// OrderOutcome records one account's result for one signal. Append-only
// from the engine's perspective.
type OrderOutcome struct {
	SignalID      string
	AccountID     string
	BrokerOrderID string
	Status        OutcomeStatus
	ExecutedAt    *time.Time
	Error         string
}

// AccountError pairs an account with the message explaining its failure.
type AccountError struct {
	AccountID string `json:"account_id"`
	Message   string `json:"message"`
}

// BroadcastResult is the caller-facing summary of one fast-path invocation.
// Ephemeral; individual outcomes are persisted via the async journal.
//
// Invariant: Executed + Failed == TotalAccounts, where TotalAccounts counts
// only accounts that entered execution. Accounts excluded for credential
// reasons appear in Skipped and in no other bucket.
type BroadcastResult struct {
	SignalID      string         `json:"signal_id"`
	TotalAccounts int            `json:"total_accounts"`
	Executed      int            `json:"executed"`
	Failed        int            `json:"failed"`
	Elapsed       time.Duration  `json:"-"`
	Errors        []AccountError `json:"errors,omitempty"`
	Skipped       []AccountError `json:"skipped,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// MarshalJSON emits Elapsed in whole milliseconds under elapsed_ms.
func (r BroadcastResult) MarshalJSON() ([]byte, error) {
	type alias BroadcastResult
	return json.Marshal(struct {
		alias
		ElapsedMs int64 `json:"elapsed_ms"`
	}{alias(r), r.Elapsed.Milliseconds()})
}

// JobStatus is the durable-queue job lifecycle.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ExecutionJob is one account's unit of work within the durable queue.
// RetryCount strictly increases on each failed attempt; the job becomes
// terminal when it completes or RetryCount reaches the configured maximum.
type ExecutionJob struct {
	ID         string
	SignalID   string
	AccountID  string
	Order      OrderRequest
	Status     JobStatus
	RetryCount int
	LastError  string
	CreatedAt  time.Time
}

// QueueStats is a point-in-time snapshot of the durable queue.
type QueueStats struct {
	QueueLength  int  `json:"queue_length"`
	Pending      int  `json:"pending"`
	Processing   int  `json:"processing"`
	Completed    int  `json:"completed"`
	Failed       int  `json:"failed"`
	IsProcessing bool `json:"is_processing"`
}

// AuditEntry is one append-only audit trail record.
type AuditEntry struct {
	Timestamp time.Time
	Actor     string
	Action    string
	SignalID  string
	AccountID string
	Detail    string
}

// OrderEntry is a normalized row from a broker order book.
type OrderEntry struct {
	OrderID   string
	Symbol    string
	Side      OrderSide
	Quantity  int
	Price     float64
	Status    string
	PlacedAt  time.Time
	UpdatedAt time.Time
}

// TradeEntry is a normalized row from a broker trade book.
type TradeEntry struct {
	TradeID  string
	OrderID  string
	Symbol   string
	Side     OrderSide
	Quantity int
	Price    float64
	TradedAt time.Time
}

// PlacementAck is the broker's reply to a placed order.
type PlacementAck struct {
	OrderID string
	Status  OutcomeStatus
	Message string
}
