package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalCast/internal/domain/models"
	"SignalCast/internal/domain/repository"
	"SignalCast/pkg/logger"
)

var (
	// ErrAccountInactive means the account is disabled and must not trade.
	ErrAccountInactive = errors.New("tokens: account inactive")
	// ErrReauthRequired means the token cannot be refreshed automatically;
	// the caller must fall back to interactive re-authentication.
	ErrReauthRequired = errors.New("tokens: interactive re-authentication required")
)

// SweepReport tallies one background refresh sweep.
type SweepReport struct {
	Checked   int `json:"checked"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

// Manager handles single-account on-demand token checks and the fleet-wide
// refresh sweep.
type Manager struct {
	creds   repository.CredentialStore
	broker  repository.Broker
	metrics repository.Metrics
	logger  *logger.Logger
	buffer  time.Duration

	now func() time.Time
}

func NewManager(creds repository.CredentialStore, broker repository.Broker, metrics repository.Metrics, lgr *logger.Logger, buffer time.Duration) *Manager {
	if buffer <= 0 {
		buffer = 30 * time.Minute
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &Manager{
		creds:   creds,
		broker:  broker,
		metrics: metrics,
		logger:  lgr,
		buffer:  buffer,
		now:     time.Now,
	}
}

// EnsureValid returns a credential guaranteed usable for at least the expiry
// buffer, refreshing it if needed. ErrReauthRequired signals that automatic
// refresh is impossible or failed; ErrAccountInactive that the account is
// disabled.
func (m *Manager) EnsureValid(ctx context.Context, accountID string) (*models.AccountCredential, error) {
	cred, err := m.creds.GetCredential(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("tokens: load credential %s: %w", accountID, err)
	}
	if !cred.Active {
		return nil, ErrAccountInactive
	}

	needsRefresh := cred.TokenExpiry == nil ||
		!cred.TokenExpiry.After(m.now().Add(m.buffer))
	if !needsRefresh {
		return cred, nil
	}

	if cred.RefreshToken == "" {
		return nil, ErrReauthRequired
	}

	newCred, err := m.broker.RefreshToken(ctx, cred)
	if err != nil {
		m.metrics.RecordTokenRefresh("failed")
		m.logger.Warn("on-demand token refresh failed",
			logger.String("account_id", accountID),
			logger.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrReauthRequired, err)
	}

	if err := m.creds.SaveCredential(ctx, newCred); err != nil {
		m.metrics.RecordTokenRefresh("failed")
		return nil, fmt.Errorf("tokens: save refreshed credential %s: %w", accountID, err)
	}

	m.metrics.RecordTokenRefresh("ok")
	return newCred, nil
}

// RefreshExpiringTokens sweeps all active accounts whose token is missing or
// inside the expiry buffer, refreshing each and tallying the outcome. This is
// the scheduled-sweep entry point.
func (m *Manager) RefreshExpiringTokens(ctx context.Context) (SweepReport, error) {
	ids, err := m.creds.ListAccountsNeedingRefresh(ctx, m.buffer)
	if err != nil {
		return SweepReport{}, fmt.Errorf("tokens: list accounts needing refresh: %w", err)
	}

	report := SweepReport{Checked: len(ids)}
	for _, id := range ids {
		if _, err := m.EnsureValid(ctx, id); err != nil {
			report.Failed++
			continue
		}
		report.Refreshed++
	}

	m.logger.Info("token sweep finished",
		logger.Int("checked", report.Checked),
		logger.Int("refreshed", report.Refreshed),
		logger.Int("failed", report.Failed))
	return report, nil
}
