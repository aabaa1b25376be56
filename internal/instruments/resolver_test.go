package instruments

import (
	"context"
	"errors"
	"testing"
	"time"

	"SignalCast/internal/domain/repository"
)

type fakeInstrumentStore struct {
	tokens  map[string]string
	lookups int
}

func (s *fakeInstrumentStore) LookupToken(_ context.Context, exchange, symbol string) (string, error) {
	s.lookups++
	if t, ok := s.tokens[exchange+":"+symbol]; ok {
		return t, nil
	}
	return "", repository.ErrNotFound
}

func TestResolveExactMatch(t *testing.T) {
	store := &fakeInstrumentStore{tokens: map[string]string{"NSE:RELIANCE": "2885"}}
	r := NewResolver(store, nil, nil, time.Minute)

	token, err := r.Resolve(context.Background(), "NSE", "RELIANCE")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if token != "2885" {
		t.Errorf("token: got %s want 2885", token)
	}
}

func TestResolveEquitySuffixFallback(t *testing.T) {
	store := &fakeInstrumentStore{tokens: map[string]string{"NSE:TCS-EQ": "11536"}}
	r := NewResolver(store, nil, nil, time.Minute)

	token, err := r.Resolve(context.Background(), "NSE", "TCS")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if token != "11536" {
		t.Errorf("token: got %s want 11536", token)
	}
	if store.lookups != 2 {
		t.Errorf("lookups: got %d want 2 (exact then suffix)", store.lookups)
	}
}

func TestResolveUnknownSymbol(t *testing.T) {
	store := &fakeInstrumentStore{tokens: map[string]string{}}
	r := NewResolver(store, nil, nil, time.Minute)

	if _, err := r.Resolve(context.Background(), "NSE", "UNKNOWNX"); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
}

func TestResolveCachesHits(t *testing.T) {
	store := &fakeInstrumentStore{tokens: map[string]string{"NSE:INFY": "1594"}}
	r := NewResolver(store, NewMemoryCache(), nil, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), "NSE", "INFY"); err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
	}
	if store.lookups != 1 {
		t.Errorf("lookups: got %d want 1 (cached after first)", store.lookups)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	c.Set(context.Background(), "k", "v", 10*time.Millisecond)

	if v, ok := c.Get(context.Background(), "k"); !ok || v != "v" {
		t.Fatalf("expected hit before expiry")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatalf("expected miss after expiry")
	}
}

func TestLayeredCacheBackfill(t *testing.T) {
	l1 := NewMemoryCache()
	l2 := NewMemoryCache()
	layered := NewLayeredCache(l1, l2)

	l2.Set(context.Background(), "k", "tok", 0)
	if v, ok := layered.Get(context.Background(), "k"); !ok || v != "tok" {
		t.Fatalf("expected layered hit from L2")
	}
	if v, ok := l1.Get(context.Background(), "k"); !ok || v != "tok" {
		t.Fatalf("expected L1 backfill after L2 hit")
	}
}
