package tokens

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEnsureValidFreshToken(t *testing.T) {
	store := newFakeCredStore()
	store.creds["a"] = credWithExpiry("a", time.Now().Add(3*time.Hour))

	m := NewManager(store, &fakeBroker{}, nopMetrics{}, nil, 30*time.Minute)
	cred, err := m.EnsureValid(context.Background(), "a")
	if err != nil {
		t.Fatalf("EnsureValid returned error: %v", err)
	}
	if cred.AccessToken != "tok-a" {
		t.Errorf("expected stored credential unchanged, got %q", cred.AccessToken)
	}
}

func TestEnsureValidRefreshesExpiring(t *testing.T) {
	store := newFakeCredStore()
	store.creds["a"] = credWithExpiry("a", time.Now().Add(5*time.Minute))

	m := NewManager(store, &fakeBroker{}, nopMetrics{}, nil, 30*time.Minute)
	cred, err := m.EnsureValid(context.Background(), "a")
	if err != nil {
		t.Fatalf("EnsureValid returned error: %v", err)
	}
	if cred.AccessToken != "fresh-a" {
		t.Errorf("expected refreshed credential, got %q", cred.AccessToken)
	}
	if len(store.saved) != 1 {
		t.Errorf("expected refreshed credential persisted, saved=%v", store.saved)
	}
}

func TestEnsureValidNilExpiryNeedsRefresh(t *testing.T) {
	store := newFakeCredStore()
	c := credWithExpiry("a", time.Now())
	c.TokenExpiry = nil
	store.creds["a"] = c

	m := NewManager(store, &fakeBroker{}, nopMetrics{}, nil, 30*time.Minute)
	cred, err := m.EnsureValid(context.Background(), "a")
	if err != nil {
		t.Fatalf("EnsureValid returned error: %v", err)
	}
	if cred.AccessToken != "fresh-a" {
		t.Errorf("expected refresh on nil expiry, got %q", cred.AccessToken)
	}
}

func TestEnsureValidInactiveAccount(t *testing.T) {
	store := newFakeCredStore()
	c := credWithExpiry("a", time.Now().Add(3*time.Hour))
	c.Active = false
	store.creds["a"] = c

	m := NewManager(store, &fakeBroker{}, nopMetrics{}, nil, 30*time.Minute)
	if _, err := m.EnsureValid(context.Background(), "a"); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestEnsureValidNoRefreshToken(t *testing.T) {
	store := newFakeCredStore()
	c := credWithExpiry("a", time.Now().Add(-time.Hour))
	c.RefreshToken = ""
	store.creds["a"] = c

	m := NewManager(store, &fakeBroker{}, nopMetrics{}, nil, 30*time.Minute)
	if _, err := m.EnsureValid(context.Background(), "a"); !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
}

func TestEnsureValidRefreshFailure(t *testing.T) {
	store := newFakeCredStore()
	store.creds["a"] = credWithExpiry("a", time.Now().Add(-time.Hour))
	broker := &fakeBroker{refreshErr: map[string]error{"a": errors.New("denied")}}

	m := NewManager(store, broker, nopMetrics{}, nil, 30*time.Minute)
	if _, err := m.EnsureValid(context.Background(), "a"); !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired on refresh failure, got %v", err)
	}
}

func TestRefreshExpiringTokensTally(t *testing.T) {
	store := newFakeCredStore()
	now := time.Now()
	store.creds["expiring-ok"] = credWithExpiry("expiring-ok", now.Add(5*time.Minute))
	store.creds["expiring-bad"] = credWithExpiry("expiring-bad", now.Add(5*time.Minute))
	store.creds["healthy"] = credWithExpiry("healthy", now.Add(6*time.Hour))

	broker := &fakeBroker{refreshErr: map[string]error{"expiring-bad": errors.New("denied")}}
	m := NewManager(store, broker, nopMetrics{}, nil, 30*time.Minute)

	report, err := m.RefreshExpiringTokens(context.Background())
	if err != nil {
		t.Fatalf("RefreshExpiringTokens returned error: %v", err)
	}
	if report.Checked != 2 {
		t.Errorf("checked: got %d want 2", report.Checked)
	}
	if report.Refreshed != 1 || report.Failed != 1 {
		t.Errorf("tally: got %+v", report)
	}
}
