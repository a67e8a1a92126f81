package cache

import (
	"testing"
	"time"
)

func TestTTLStore_SetAndIsSet(t *testing.T) {
	store := NewTTLStore()

	if store.IsSet("mr:1") {
		t.Fatal("expected unset key to report false")
	}

	store.Set("mr:1", time.Minute)
	if !store.IsSet("mr:1") {
		t.Fatal("expected key to be set")
	}

	// Idempotent set
	store.Set("mr:1", time.Minute)
	if !store.IsSet("mr:1") {
		t.Fatal("expected key to remain set after second Set")
	}
}

func TestTTLStore_Expire(t *testing.T) {
	store := NewTTLStore()
	store.Set("mr:1", time.Minute)

	store.Expire("mr:1")
	if store.IsSet("mr:1") {
		t.Fatal("expected expired key to report false")
	}

	// Expiring an absent key must not panic or resurrect anything.
	store.Expire("mr:2")
	if store.IsSet("mr:2") {
		t.Fatal("expected never-set key to report false")
	}
}

func TestTTLStore_ExpiryByClock(t *testing.T) {
	now := time.Now()
	store := NewTTLStore()
	store.now = func() time.Time { return now }

	store.Set("mr:1", time.Minute)
	if !store.IsSet("mr:1") {
		t.Fatal("expected key to be set before ttl elapses")
	}

	now = now.Add(2 * time.Minute)
	if store.IsSet("mr:1") {
		t.Fatal("expected key to expire after ttl")
	}

	// Re-setting after expiry starts a fresh window.
	store.Set("mr:1", time.Minute)
	if !store.IsSet("mr:1") {
		t.Fatal("expected re-set key to be set")
	}
}

func TestTTLStore_IgnoresEmptyKeyAndZeroTTL(t *testing.T) {
	store := NewTTLStore()

	store.Set("", time.Minute)
	if store.IsSet("") {
		t.Fatal("expected empty key to be ignored")
	}

	store.Set("mr:1", 0)
	if store.IsSet("mr:1") {
		t.Fatal("expected zero ttl to be ignored")
	}
}
