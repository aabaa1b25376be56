package broadcast

import (
	"errors"
	"time"

	"SignalCast/internal/domain/models"
)

// ErrPreparation marks fatal failures before fan-out: signal persistence or
// instrument resolution. The caller must correct the input and retry.
var ErrPreparation = errors.New("broadcast: preparation failed")

// Synthetic failure messages for the two deadline tiers.
const (
	globalTimeoutMsg  = "execution timeout exceeded"
	accountTimeoutMsg = "account timeout exceeded"
)

// Config carries the fast-path deadline tiers.
type Config struct {
	// GlobalDeadline bounds the whole fan-out batch.
	GlobalDeadline time.Duration
	// AccountTimeout bounds one account's contribution to total latency.
	AccountTimeout time.Duration
}

// Context bundles everything Execute needs: the persisted signal, the
// credentials that passed validation, and the shared order template. The
// template is built once and read-only from then on.
type Context struct {
	Signal      *models.Signal
	Credentials map[string]*models.AccountCredential
	Template    models.OrderRequest

	// Skipped lists accounts excluded for credential reasons. They never
	// enter execution and are not counted in the result's totals.
	Skipped []models.AccountError
}

// accountOutcome is one account's settled disposition within a fan-out.
type accountOutcome struct {
	accountID string
	ack       models.PlacementAck
	err       error
}

func (o accountOutcome) failed() bool {
	return o.err != nil || o.ack.Status == models.OutcomeFailed
}

func (o accountOutcome) message() string {
	if o.err != nil {
		return o.err.Error()
	}
	if o.ack.Message != "" {
		return o.ack.Message
	}
	return "order rejected"
}
