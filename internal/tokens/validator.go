// Package tokens manages brokerage access-token lifecycle for the account
// fleet: bulk classification, on-demand refresh, and the background sweep.
package tokens

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"SignalCast/internal/domain/models"
	"SignalCast/internal/domain/repository"
	"SignalCast/pkg/logger"
)

// ValidationReport classifies a set of accounts. Every input id lands in
// exactly one of the three buckets.
type ValidationReport struct {
	Valid   map[string]*models.AccountCredential
	Expired []string
	Errors  map[string]string
}

// ValidatorConfig carries the externally tunable validation knobs.
type ValidatorConfig struct {
	BatchSize          int           // sub-batch size for bulk store reads
	ExpiryBuffer       time.Duration // lead time before expiry at which a token counts as expired
	RefreshConcurrency int           // simultaneous broker refresh calls
}

// Validator classifies account credentials in bounded sub-batches. Batching
// caps simultaneous store load only; classification of an account never
// depends on which batch it landed in.
type Validator struct {
	creds   repository.CredentialStore
	broker  repository.Broker
	metrics repository.Metrics
	logger  *logger.Logger
	cfg     ValidatorConfig

	now func() time.Time
}

func NewValidator(creds repository.CredentialStore, broker repository.Broker, metrics repository.Metrics, lgr *logger.Logger, cfg ValidatorConfig) *Validator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.ExpiryBuffer <= 0 {
		cfg.ExpiryBuffer = 30 * time.Minute
	}
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = 5
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &Validator{
		creds:   creds,
		broker:  broker,
		metrics: metrics,
		logger:  lgr,
		cfg:     cfg,
		now:     time.Now,
	}
}

// ValidateMany classifies accountIDs into valid, expired, and errored.
// Lookup failures are captured per account and never propagated.
func (v *Validator) ValidateMany(ctx context.Context, accountIDs []string) *ValidationReport {
	report := &ValidationReport{
		Valid:  make(map[string]*models.AccountCredential),
		Errors: make(map[string]string),
	}

	for start := 0; start < len(accountIDs); start += v.cfg.BatchSize {
		end := start + v.cfg.BatchSize
		if end > len(accountIDs) {
			end = len(accountIDs)
		}
		batch := accountIDs[start:end]

		creds, err := v.creds.GetCredentials(ctx, batch)
		if err != nil {
			v.logger.Error("credential batch lookup failed",
				logger.Int("batch_size", len(batch)),
				logger.Error(err))
			for _, id := range batch {
				report.Errors[id] = "credential lookup failed: " + err.Error()
			}
			continue
		}

		for _, id := range batch {
			cred, ok := creds[id]
			if !ok {
				report.Errors[id] = "account not found"
				continue
			}
			if v.isExpired(cred) {
				report.Expired = append(report.Expired, id)
				continue
			}
			report.Valid[id] = cred
		}
	}

	return report
}

// isExpired treats a missing token, a missing expiry, and an expiry inside
// the buffer all as expired.
func (v *Validator) isExpired(cred *models.AccountCredential) bool {
	if cred.AccessToken == "" {
		return true
	}
	if cred.TokenExpiry == nil {
		return true
	}
	return !cred.TokenExpiry.After(v.now().Add(v.cfg.ExpiryBuffer))
}

// RefreshMany refreshes tokens for accountIDs with bounded concurrency and
// returns the credentials that refreshed successfully. Accounts without a
// refresh token, or whose refresh failed, are omitted; callers diff against
// the input to detect them.
func (v *Validator) RefreshMany(ctx context.Context, accountIDs []string) map[string]*models.AccountCredential {
	var mu sync.Mutex
	refreshed := make(map[string]*models.AccountCredential)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.RefreshConcurrency)

	for _, id := range accountIDs {
		id := id
		g.Go(func() error {
			cred, err := v.creds.GetCredential(gctx, id)
			if err != nil || cred == nil || cred.RefreshToken == "" {
				return nil
			}

			newCred, err := v.broker.RefreshToken(gctx, cred)
			if err != nil {
				v.metrics.RecordTokenRefresh("failed")
				v.logger.Warn("token refresh failed",
					logger.String("account_id", id),
					logger.Error(err))
				return nil
			}

			if err := v.creds.SaveCredential(gctx, newCred); err != nil {
				v.metrics.RecordTokenRefresh("failed")
				v.logger.Error("refreshed credential save failed",
					logger.String("account_id", id),
					logger.Error(err))
				return nil
			}

			v.metrics.RecordTokenRefresh("ok")
			mu.Lock()
			refreshed[id] = newCred
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait() // workers never return errors; failures are omissions
	return refreshed
}

// AccountsNeedingRefresh lists active accounts whose token is missing or
// expires within the buffer.
func (v *Validator) AccountsNeedingRefresh(ctx context.Context) ([]string, error) {
	return v.creds.ListAccountsNeedingRefresh(ctx, v.cfg.ExpiryBuffer)
}
