package assistant

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // license persistence
)

// UserLicense is one authorized user of the assistant. Licenses are soft
// state: revocation deactivates the record, it is never purged, so usage
// history survives and a later activation restores the user unchanged.
type UserLicense struct {
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Active       bool      `json:"active"`
	Capabilities []string  `json:"capabilities"`
	UsageCount   int       `json:"usage_count"`
	LastUsed     time.Time `json:"last_used"`
	GrantedAt    time.Time `json:"granted_at"`

	// UsageByOperation tallies queries per operation name.
	UsageByOperation map[string]int `json:"usage_by_operation,omitempty"`

	// UsageByDay tallies queries per day, keyed YYYY-MM-DD.
	UsageByDay map[string]int `json:"usage_by_day,omitempty"`
}

// Licenses gates every query behind a per-user license with per-operation
// capabilities. All mutating operations are idempotent and report whether
// they changed anything, so admin commands can phrase their reply honestly.
type Licenses struct {
	mu     sync.Mutex
	users  map[string]*UserLicense
	db     *sql.DB
	logger *slog.Logger
}

// NewLicenses creates an in-memory registry. When dbPath is non-empty the
// registry is persisted to SQLite and reloaded on startup.
func NewLicenses(dbPath string, logger *slog.Logger) (*Licenses, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Licenses{
		users:  make(map[string]*UserLicense),
		logger: logger.With("component", "licenses"),
	}
	if dbPath == "" {
		return l, nil
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open license db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS licenses (
		user_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init license db: %w", err)
	}
	l.db = db

	rows, err := db.Query(`SELECT payload FROM licenses`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load licenses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var u UserLicense
		if err := json.Unmarshal([]byte(payload), &u); err != nil {
			l.logger.Warn("skipping corrupt license row", "error", err)
			continue
		}
		l.users[u.UserID] = &u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	l.logger.Info("licenses loaded", "count", len(l.users))
	return l, nil
}

// Close releases the persistence handle.
func (l *Licenses) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// persist writes one license row. Callers hold l.mu.
func (l *Licenses) persist(u *UserLicense) {
	if l.db == nil {
		return
	}
	payload, err := json.Marshal(u)
	if err != nil {
		l.logger.Error("encode license", "user", u.UserID, "error", err)
		return
	}
	_, err = l.db.Exec(`INSERT INTO licenses (user_id, payload) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET payload = excluded.payload`,
		u.UserID, string(payload))
	if err != nil {
		l.logger.Error("persist license", "user", u.UserID, "error", err)
	}
}

// HasActiveLicense reports whether the user may talk to the assistant.
func (l *Licenses) HasActiveLicense(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[userID]
	return ok && u.Active
}

// HasCapability reports whether the user may run the operation. The "*"
// capability grants everything.
func (l *Licenses) HasCapability(userID, operation string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[userID]
	if !ok || !u.Active {
		return false
	}
	for _, c := range u.Capabilities {
		if c == "*" || c == operation {
			return true
		}
	}
	return false
}

// RecordUsage bumps the user's counters: the lifetime total, the
// per-operation tally and the per-day tally.
func (l *Licenses) RecordUsage(userID, operation string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[userID]
	if !ok {
		return
	}
	now := time.Now()
	u.UsageCount++
	u.LastUsed = now
	if operation != "" {
		if u.UsageByOperation == nil {
			u.UsageByOperation = make(map[string]int)
		}
		u.UsageByOperation[operation]++
	}
	if u.UsageByDay == nil {
		u.UsageByDay = make(map[string]int)
	}
	u.UsageByDay[now.Format("2006-01-02")]++
	l.persist(u)
}

// Grant creates an active license with the given capabilities. Granting an
// existing user changes nothing and returns false.
func (l *Licenses) Grant(userID, name string, capabilities []string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.users[userID]; exists {
		return false
	}
	if len(capabilities) == 0 {
		capabilities = []string{"*"}
	}
	u := &UserLicense{
		UserID:       userID,
		Name:         name,
		Active:       true,
		Capabilities: append([]string(nil), capabilities...),
		GrantedAt:    time.Now(),
	}
	l.users[userID] = u
	l.persist(u)
	l.logger.Info("license granted", "user", userID, "name", name)
	return true
}

// Revoke deactivates a license. The record and its usage history are kept;
// a later Activate restores the user unchanged. Revoking an unknown or
// already inactive user returns false.
func (l *Licenses) Revoke(userID string) bool {
	if !l.setActive(userID, false) {
		return false
	}
	l.logger.Info("license revoked", "user", userID)
	return true
}

// Activate re-enables a deactivated license.
func (l *Licenses) Activate(userID string) bool {
	return l.setActive(userID, true)
}

// Deactivate disables a license without losing its settings.
func (l *Licenses) Deactivate(userID string) bool {
	return l.setActive(userID, false)
}

func (l *Licenses) setActive(userID string, active bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[userID]
	if !ok || u.Active == active {
		return false
	}
	u.Active = active
	l.persist(u)
	return true
}

// SetCapabilities replaces the user's capability list. Returns false for
// unknown users or when the list is unchanged.
func (l *Licenses) SetCapabilities(userID string, capabilities []string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[userID]
	if !ok {
		return false
	}
	if equalStrings(u.Capabilities, capabilities) {
		return false
	}
	u.Capabilities = append([]string(nil), capabilities...)
	l.persist(u)
	return true
}

// GrantCapability adds one capability to the user's list. Returns false
// when the user is unknown, already holds the capability, or holds "*"
// (which already covers it).
func (l *Licenses) GrantCapability(userID, capability string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[userID]
	if !ok {
		return false
	}
	for _, c := range u.Capabilities {
		if c == capability || c == "*" {
			return false
		}
	}
	u.Capabilities = append(u.Capabilities, capability)
	l.persist(u)
	return true
}

// RevokeCapability removes one capability from the user's list. Only
// literal entries are removed; the "*" wildcard has to be revoked as "*".
// Returns false when the user is unknown or does not hold the capability.
func (l *Licenses) RevokeCapability(userID, capability string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[userID]
	if !ok {
		return false
	}
	for i, c := range u.Capabilities {
		if c == capability {
			u.Capabilities = append(u.Capabilities[:i], u.Capabilities[i+1:]...)
			l.persist(u)
			return true
		}
	}
	return false
}

// Users lists all licenses sorted by user ID.
func (l *Licenses) Users() []UserLicense {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]UserLicense, 0, len(l.users))
	for _, u := range l.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Stats summarizes the registry for the admin surface.
func (l *Licenses) Stats() (total, active, queries int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range l.users {
		total++
		if u.Active {
			active++
		}
		queries += u.UsageCount
	}
	return total, active, queries
}

// UsageBreakdown aggregates the per-operation counters across all users and
// the total for one day (YYYY-MM-DD).
func (l *Licenses) UsageBreakdown(day string) (byOperation map[string]int, dayTotal int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	byOperation = make(map[string]int)
	for _, u := range l.users {
		for op, n := range u.UsageByOperation {
			byOperation[op] += n
		}
		dayTotal += u.UsageByDay[day]
	}
	return byOperation, dayTotal
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
