package portal

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTokenStoreValidityWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, time.December, 3, 8, 0, 0, 0, time.UTC)}
	store := NewTokenStore(WithClock(clock.Now))

	if store.IsValid() {
		t.Fatal("empty store must be invalid")
	}
	token := store.Set("T1", 3600)
	if !store.IsValid() {
		t.Fatal("fresh token must be valid")
	}
	if !token.ExpiresAt.Equal(clock.now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", token.ExpiresAt)
	}

	clock.Advance(3600*time.Second - SafetyMargin - time.Second)
	if !store.IsValid() {
		t.Fatal("token must stay valid until the safety margin")
	}
	clock.Advance(2 * time.Second)
	if store.IsValid() {
		t.Fatal("token must be invalid inside the safety margin")
	}
	clock.Advance(time.Hour)
	if store.IsValid() {
		t.Fatal("token must never become valid again without Set")
	}
}

func TestTokenStoreZeroTTLAndClear(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, time.December, 3, 8, 0, 0, 0, time.UTC)}
	store := NewTokenStore(WithClock(clock.Now))

	token := store.Set("T2", 0)
	if token.TTLSeconds != 0 || !token.ExpiresAt.Equal(clock.Now()) {
		t.Fatalf("expected zero ttl, got %+v", token)
	}
	if store.IsValid() {
		t.Fatal("zero ttl token must be invalid")
	}
	if _, ok := store.Current(); !ok {
		t.Fatal("zero ttl token must still be held")
	}
	store.Set("T3", 3600)
	store.Clear()
	if store.IsValid() {
		t.Fatal("cleared store must be invalid")
	}
	if _, ok := store.Current(); ok {
		t.Fatal("cleared store must hold no token")
	}
}

func TestTokenStoreRestoreFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access_token.json")
	persister, err := NewFileTokenPersister(path)
	if err != nil {
		t.Fatalf("NewFileTokenPersister: %v", err)
	}
	clock := &fakeClock{now: time.Date(2025, time.December, 3, 8, 0, 0, 0, time.UTC)}

	first := NewTokenStore(WithClock(clock.Now), WithPersister(persister))
	first.Set("persisted", 3600)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	second := NewTokenStore(WithClock(clock.Now), WithPersister(persister))
	if !second.Restore() {
		t.Fatal("expected valid persisted token to restore")
	}
	token, _ := second.Current()
	if token.Value != "persisted" {
		t.Fatalf("unexpected restored token %q", token.Value)
	}

	clock.Advance(time.Hour)
	third := NewTokenStore(WithClock(clock.Now), WithPersister(persister))
	if third.Restore() {
		t.Fatal("expired persisted token must not restore")
	}
	if _, ok := third.Current(); ok {
		t.Fatal("expired persisted token must not be kept")
	}

	second.Clear()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected token file removed, got %v", err)
	}
}

func TestFileTokenPersisterMissingFile(t *testing.T) {
	persister, err := NewFileTokenPersister(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("NewFileTokenPersister: %v", err)
	}
	if _, ok, err := persister.Load(); err != nil || ok {
		t.Fatalf("expected missing file to load nothing, got ok=%v err=%v", ok, err)
	}
	if err := persister.Clear(); err != nil {
		t.Fatalf("clear missing file: %v", err)
	}
}
