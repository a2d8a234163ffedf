package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Authorization failures, distinguished so the server can pick the right
// HTTP status.
var (
	ErrInvalidKey     = errors.New("invalid API key")
	ErrNotAllowed     = errors.New("operation not allowed for this key")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrUnknownOp      = errors.New("unknown operation")
	ErrMissingAPIKey  = errors.New("missing API key")
	ErrInactiveClient = errors.New("client is deactivated")
)

// Credential is one API client of the gateway. AllowedOperations supports
// the "*" wildcard meaning every catalog operation.
type Credential struct {
	Key               string   `yaml:"key"`
	Name              string   `yaml:"name"`
	AllowedOperations []string `yaml:"allowed_operations"`
	RateLimit         int      `yaml:"rate_limit"`
	Active            bool     `yaml:"active"`
}

type usageWindow struct {
	count int
	last  time.Time
}

// CredentialStore authorizes requests against configured credentials and
// enforces per-key rate limits over a rolling one-minute window.
type CredentialStore struct {
	mu      sync.Mutex
	byKey   map[string]Credential
	windows map[string]*usageWindow
	now     func() time.Time
}

// NewCredentialStore builds a store from configured credentials. Keys must
// be unique.
func NewCredentialStore(creds []Credential) (*CredentialStore, error) {
	byKey := make(map[string]Credential, len(creds))
	for _, c := range creds {
		if c.Key == "" {
			return nil, fmt.Errorf("credential %q has an empty key", c.Name)
		}
		if _, dup := byKey[c.Key]; dup {
			return nil, fmt.Errorf("duplicate credential key for %q", c.Name)
		}
		byKey[c.Key] = c
	}
	return &CredentialStore{
		byKey:   byKey,
		windows: make(map[string]*usageWindow),
		now:     time.Now,
	}, nil
}

// Authorize checks the key, the operation allow-list and the rate limit,
// recording the request on success. The window is rolling: a request issued
// more than a minute after the previous one resets the counter to 1.
func (s *CredentialStore) Authorize(key, operation string) (Credential, error) {
	if key == "" {
		return Credential{}, ErrMissingAPIKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byKey[key]
	if !ok {
		return Credential{}, ErrInvalidKey
	}
	if !cred.Active {
		return cred, ErrInactiveClient
	}
	if !allowed(cred.AllowedOperations, operation) {
		return cred, ErrNotAllowed
	}

	w := s.windows[key]
	if w == nil {
		w = &usageWindow{}
		s.windows[key] = w
	}

	now := s.now()
	if now.Sub(w.last) > time.Minute {
		w.count = 0
	}
	if cred.RateLimit > 0 && w.count >= cred.RateLimit {
		return cred, ErrRateLimited
	}
	w.count++
	w.last = now
	return cred, nil
}

// Usage reports the current window counter for a key, for the status
// endpoint.
func (s *CredentialStore) Usage(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.windows[key]; w != nil && s.now().Sub(w.last) <= time.Minute {
		return w.count
	}
	return 0
}

// Clients lists configured credentials with their keys masked.
func (s *CredentialStore) Clients() []Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Credential, 0, len(s.byKey))
	for _, c := range s.byKey {
		c.Key = maskKey(c.Key)
		out = append(out, c)
	}
	return out
}

func allowed(list []string, operation string) bool {
	for _, a := range list {
		if a == "*" || a == operation {
			return true
		}
	}
	return false
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
