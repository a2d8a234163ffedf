package assistant

import (
	"path/filepath"
	"testing"
	"time"
)

func newLicenses(t *testing.T) *Licenses {
	t.Helper()
	l, err := NewLicenses("", nil)
	if err != nil {
		t.Fatalf("NewLicenses: %v", err)
	}
	return l
}

func TestGrantIdempotent(t *testing.T) {
	l := newLicenses(t)

	if !l.Grant("u1", "Ali", nil) {
		t.Fatal("first grant reported no change")
	}
	if l.Grant("u1", "Ali", nil) {
		t.Fatal("second grant reported a change")
	}
	if !l.HasActiveLicense("u1") {
		t.Error("granted user has no active license")
	}
}

func TestRevokeIdempotent(t *testing.T) {
	l := newLicenses(t)
	l.Grant("u1", "Ali", nil)

	if !l.Revoke("u1") {
		t.Fatal("revoke of existing user reported no change")
	}
	if l.Revoke("u1") {
		t.Fatal("revoke of inactive user reported a change")
	}
	if l.Revoke("ghost") {
		t.Fatal("revoke of absent user reported a change")
	}
	if l.HasActiveLicense("u1") {
		t.Error("revoked user still licensed")
	}
}

func TestRevokeKeepsRecord(t *testing.T) {
	l := newLicenses(t)
	l.Grant("u1", "Ali", []string{"kasa_bakiye"})
	for i := 0; i < 5; i++ {
		l.RecordUsage("u1", "kasa_bakiye")
	}

	l.Revoke("u1")

	users := l.Users()
	if len(users) != 1 {
		t.Fatalf("revocation purged the record: %d users, want 1", len(users))
	}
	u := users[0]
	if u.Active {
		t.Error("revoked license still active")
	}
	if u.UsageCount != 5 {
		t.Errorf("usage history lost: count = %d, want 5", u.UsageCount)
	}

	// Reactivation restores the user with settings and history intact.
	if !l.Activate("u1") {
		t.Fatal("reactivation reported no change")
	}
	if !l.HasCapability("u1", "kasa_bakiye") {
		t.Error("reactivated user lost capabilities")
	}
}

func TestActivateDeactivate(t *testing.T) {
	l := newLicenses(t)
	l.Grant("u1", "Ali", nil)

	if l.Activate("u1") {
		t.Error("activating an active license reported a change")
	}
	if !l.Deactivate("u1") {
		t.Error("deactivation reported no change")
	}
	if l.HasActiveLicense("u1") {
		t.Error("deactivated user still active")
	}
	if l.HasCapability("u1", "kasa_bakiye") {
		t.Error("deactivated user keeps capabilities")
	}
	if !l.Activate("u1") {
		t.Error("reactivation reported no change")
	}
}

func TestCapabilities(t *testing.T) {
	l := newLicenses(t)
	l.Grant("u1", "Ali", []string{"kasa_bakiye", "stok_raporu"})
	l.Grant("u2", "Veli", nil) // default "*"

	if !l.HasCapability("u1", "kasa_bakiye") {
		t.Error("explicit capability denied")
	}
	if l.HasCapability("u1", "banka_bakiyeleri") {
		t.Error("unlisted capability allowed")
	}
	if !l.HasCapability("u2", "banka_bakiyeleri") {
		t.Error("wildcard capability denied")
	}

	if !l.SetCapabilities("u1", []string{"*"}) {
		t.Error("capability change reported no change")
	}
	if l.SetCapabilities("u1", []string{"*"}) {
		t.Error("identical capability set reported a change")
	}
}

func TestUsageCounting(t *testing.T) {
	l := newLicenses(t)
	l.Grant("u1", "Ali", nil)

	l.RecordUsage("u1", "kasa_bakiye")
	l.RecordUsage("u1", "stok_raporu")
	l.RecordUsage("ghost", "kasa_bakiye") // no-op

	total, active, queries := l.Stats()
	if total != 1 || active != 1 || queries != 2 {
		t.Errorf("stats = (%d,%d,%d), want (1,1,2)", total, active, queries)
	}
}

func TestUsageBreakdown(t *testing.T) {
	l := newLicenses(t)
	l.Grant("u1", "Ali", nil)
	l.Grant("u2", "Veli", nil)

	l.RecordUsage("u1", "kasa_bakiye")
	l.RecordUsage("u1", "kasa_bakiye")
	l.RecordUsage("u2", "kasa_bakiye")
	l.RecordUsage("u2", "stok_raporu")

	byOp, today := l.UsageBreakdown(time.Now().Format("2006-01-02"))
	if byOp["kasa_bakiye"] != 3 || byOp["stok_raporu"] != 1 {
		t.Errorf("per-operation counters = %v, want kasa_bakiye:3 stok_raporu:1", byOp)
	}
	if today != 4 {
		t.Errorf("today's tally = %d, want 4", today)
	}
	if _, other := l.UsageBreakdown("1999-01-01"); other != 0 {
		t.Errorf("tally for an unused day = %d, want 0", other)
	}
}

func TestCapabilityGrantRevoke(t *testing.T) {
	l := newLicenses(t)
	l.Grant("u1", "Ali", []string{"kasa_bakiye"})
	l.Grant("u2", "Veli", nil) // "*"

	if !l.GrantCapability("u1", "stok_raporu") {
		t.Fatal("new capability reported no change")
	}
	if l.GrantCapability("u1", "stok_raporu") {
		t.Fatal("repeated grant reported a change")
	}
	if l.GrantCapability("u2", "stok_raporu") {
		t.Fatal("grant under the wildcard reported a change")
	}
	if !l.HasCapability("u1", "stok_raporu") {
		t.Error("granted capability not effective")
	}

	if !l.RevokeCapability("u1", "stok_raporu") {
		t.Fatal("capability revocation reported no change")
	}
	if l.RevokeCapability("u1", "stok_raporu") {
		t.Fatal("repeated revocation reported a change")
	}
	if l.HasCapability("u1", "stok_raporu") {
		t.Error("revoked capability still effective")
	}
	// The wildcard is only removable as a literal "*".
	if l.RevokeCapability("u2", "stok_raporu") {
		t.Error("revoking a non-literal capability under the wildcard reported a change")
	}
	if !l.HasCapability("u2", "stok_raporu") {
		t.Error("wildcard user lost access")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "licenses.db")

	l, err := NewLicenses(path, nil)
	if err != nil {
		t.Fatalf("NewLicenses: %v", err)
	}
	l.Grant("u1", "Ali", []string{"kasa_bakiye"})
	l.RecordUsage("u1", "kasa_bakiye")
	l.Deactivate("u1")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewLicenses(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	users := reopened.Users()
	if len(users) != 1 {
		t.Fatalf("reloaded %d users, want 1", len(users))
	}
	u := users[0]
	if u.Name != "Ali" || u.Active || u.UsageCount != 1 {
		t.Errorf("reloaded license lost state: %+v", u)
	}
	if u.UsageByOperation["kasa_bakiye"] != 1 {
		t.Errorf("reloaded license lost per-operation counters: %v", u.UsageByOperation)
	}
}
