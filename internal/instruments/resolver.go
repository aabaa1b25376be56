// Package instruments resolves trading symbols to broker instrument tokens.
package instruments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"SignalCast/internal/domain/repository"
	"SignalCast/pkg/logger"
)

// ErrUnresolved is returned when neither the exact symbol nor its equity
// variant maps to an instrument token.
var ErrUnresolved = errors.New("instruments: symbol could not be resolved")

// equitySuffix is the conventional suffix for cash-segment listings.
const equitySuffix = "-EQ"

// Resolver looks up instrument tokens with an exact match first, then the
// equity-suffix variant, caching successful resolutions.
type Resolver struct {
	store    repository.InstrumentStore
	cache    Cache
	logger   *logger.Logger
	cacheTTL time.Duration
}

func NewResolver(store repository.InstrumentStore, cache Cache, lgr *logger.Logger, cacheTTL time.Duration) *Resolver {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Resolver{store: store, cache: cache, logger: lgr, cacheTTL: cacheTTL}
}

// Resolve returns the instrument token for a symbol on an exchange.
func (r *Resolver) Resolve(ctx context.Context, exchange, symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", fmt.Errorf("instruments: empty symbol")
	}

	key := cacheKey(exchange, symbol)
	if token, ok := r.cache.Get(ctx, key); ok {
		return token, nil
	}

	token, err := r.store.LookupToken(ctx, exchange, symbol)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("instruments: lookup %s: %w", symbol, err)
	}

	if token == "" && !strings.HasSuffix(symbol, equitySuffix) {
		token, err = r.store.LookupToken(ctx, exchange, symbol+equitySuffix)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("instruments: lookup %s: %w", symbol+equitySuffix, err)
		}
	}

	if token == "" {
		r.logger.Warn("symbol unresolved",
			logger.String("exchange", exchange),
			logger.String("symbol", symbol))
		return "", fmt.Errorf("%w: %s", ErrUnresolved, symbol)
	}

	r.cache.Set(ctx, key, token, r.cacheTTL)
	return token, nil
}
