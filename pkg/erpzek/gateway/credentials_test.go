package gateway

import (
	"errors"
	"testing"
	"time"
)

func testStore(t *testing.T, creds []Credential) *CredentialStore {
	t.Helper()
	s, err := NewCredentialStore(creds)
	if err != nil {
		t.Fatalf("NewCredentialStore: %v", err)
	}
	return s
}

func TestAuthorizeUnknownKey(t *testing.T) {
	s := testStore(t, nil)
	if _, err := s.Authorize("nope", "banka_bakiyeleri"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := s.Authorize("", "banka_bakiyeleri"); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestAuthorizeAllowList(t *testing.T) {
	s := testStore(t, []Credential{
		{Key: "k1", Name: "restricted", AllowedOperations: []string{"banka_bakiyeleri"}, RateLimit: 100, Active: true},
		{Key: "k2", Name: "wildcard", AllowedOperations: []string{"*"}, RateLimit: 100, Active: true},
		{Key: "k3", Name: "disabled", AllowedOperations: []string{"*"}, RateLimit: 100},
	})

	if _, err := s.Authorize("k1", "banka_bakiyeleri"); err != nil {
		t.Errorf("allowed operation rejected: %v", err)
	}
	if _, err := s.Authorize("k1", "stok_raporu"); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("expected ErrNotAllowed, got %v", err)
	}
	if _, err := s.Authorize("k2", "stok_raporu"); err != nil {
		t.Errorf("wildcard rejected: %v", err)
	}
	if _, err := s.Authorize("k3", "stok_raporu"); !errors.Is(err, ErrInactiveClient) {
		t.Errorf("expected ErrInactiveClient, got %v", err)
	}
}

func TestRateLimitWithinWindow(t *testing.T) {
	s := testStore(t, []Credential{
		{Key: "k", Name: "c", AllowedOperations: []string{"*"}, RateLimit: 3, Active: true},
	})

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		clock = clock.Add(time.Second)
		if _, err := s.Authorize("k", "kasa_bakiye"); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}

	clock = clock.Add(time.Second)
	if _, err := s.Authorize("k", "kasa_bakiye"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

// A request issued more than a minute after the previous one must reset
// the window counter to one, regardless of how full the window was.
func TestRateLimitWindowReset(t *testing.T) {
	s := testStore(t, []Credential{
		{Key: "k", Name: "c", AllowedOperations: []string{"*"}, RateLimit: 2, Active: true},
	})

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		if _, err := s.Authorize("k", "kasa_bakiye"); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
	if _, err := s.Authorize("k", "kasa_bakiye"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("window should be full, got %v", err)
	}

	clock = clock.Add(61 * time.Second)
	if _, err := s.Authorize("k", "kasa_bakiye"); err != nil {
		t.Fatalf("request after window expiry rejected: %v", err)
	}
	if got := s.Usage("k"); got != 1 {
		t.Errorf("counter after reset = %d, want 1", got)
	}
}

func TestRateLimitSlidesFromLastRequest(t *testing.T) {
	s := testStore(t, []Credential{
		{Key: "k", Name: "c", AllowedOperations: []string{"*"}, RateLimit: 2, Active: true},
	})

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	// Requests 59s apart keep refreshing the window: the counter never resets.
	if _, err := s.Authorize("k", "kasa_bakiye"); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(59 * time.Second)
	if _, err := s.Authorize("k", "kasa_bakiye"); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(59 * time.Second)
	if _, err := s.Authorize("k", "kasa_bakiye"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited with sliding window, got %v", err)
	}
}

func TestDuplicateKeysRejected(t *testing.T) {
	_, err := NewCredentialStore([]Credential{
		{Key: "same", Name: "a"},
		{Key: "same", Name: "b"},
	})
	if err == nil {
		t.Fatal("duplicate keys accepted")
	}
}

func TestClientsMasksKeys(t *testing.T) {
	s := testStore(t, []Credential{
		{Key: "supersecretkey123", Name: "a", Active: true},
	})
	for _, c := range s.Clients() {
		if c.Key == "supersecretkey123" {
			t.Error("client listing leaked the raw key")
		}
	}
}
