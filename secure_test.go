package tiercache

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newTestSecure(t *testing.T, inner Service[string]) *SecureService[user] {
	t.Helper()
	svc, err := NewSecure[user](inner, SecureConfig{Secret: "sesame"})
	if err != nil {
		t.Fatalf("NewSecure: %v", err)
	}
	return svc
}

func TestSecureRoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := newStubCache[string]()
	svc := newTestSecure(t, inner)

	v := user{ID: "1", Name: "Ada"}
	if err := svc.Set(ctx, "u:1", v, DefaultPolicy()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := svc.Get(ctx, "u:1")
	if err != nil || !ok || got != v {
		t.Fatalf("Get: ok=%v err=%v got=%v", ok, err, got)
	}

	ok, err = svc.Exists(ctx, "u:1")
	if err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}

	if err := svc.Remove(ctx, "u:1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := svc.Get(ctx, "u:1"); ok {
		t.Fatal("Get after Remove: expected miss")
	}
}

func TestSecureStoresNoPlaintext(t *testing.T) {
	ctx := context.Background()
	inner := newStubCache[string]()
	svc := newTestSecure(t, inner)

	if err := svc.Set(ctx, "u:plain", user{ID: "1", Name: "Ada"}, DefaultPolicy()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	for k, v := range inner.data {
		if strings.Contains(k, "u:plain") {
			t.Fatalf("stored key %q carries the plaintext key", k)
		}
		if strings.Contains(v, "Ada") {
			t.Fatalf("stored value %q carries plaintext data", v)
		}
	}
}

func TestSecureEncryptedKeyIsStable(t *testing.T) {
	inner := newStubCache[string]()
	svc := newTestSecure(t, inner)

	a := svc.encryptKey("u:1")
	b := svc.encryptKey("u:1")
	if a != b {
		t.Fatal("encrypted key must be deterministic for lookups to work")
	}
	if a == svc.encryptKey("u:2") {
		t.Fatal("distinct keys must not collide")
	}
}

func TestSecurePlaintextFallback(t *testing.T) {
	ctx := context.Background()
	inner := newStubCache[string]()
	rec := NewRecorder()
	svc, err := NewSecure[user](inner, SecureConfig{Secret: "sesame", Metrics: rec})
	if err != nil {
		t.Fatalf("NewSecure: %v", err)
	}

	// value stored as plain JSON under the encrypted key, as if written
	// before encryption was turned on
	raw, _ := json.Marshal(user{ID: "9", Name: "Old"})
	inner.put(svc.encryptKey("u:old"), string(raw))

	got, ok, err := svc.Get(ctx, "u:old")
	if err != nil || !ok || got.ID != "9" {
		t.Fatalf("fallback Get: ok=%v err=%v got=%v", ok, err, got)
	}
	if m := rec.Snapshot(CacheTypeSecure); m.Errors != 1 {
		t.Fatalf("expected one recorded security event, got %+v", m)
	}
}

func TestSecureGarbageReadsAsMiss(t *testing.T) {
	ctx := context.Background()
	inner := newStubCache[string]()
	svc := newTestSecure(t, inner)

	inner.put(svc.encryptKey("u:junk"), "\x00\x01 definitely not json")

	if _, ok, err := svc.Get(ctx, "u:junk"); err != nil || ok {
		t.Fatalf("garbage Get: ok=%v err=%v", ok, err)
	}
}

func TestSecureAppendsTagsWithoutMutatingCaller(t *testing.T) {
	ctx := context.Background()
	inner := newStubCache[string]()
	svc := newTestSecure(t, inner)

	callerPolicy := DefaultPolicy().WithTags("users")
	if err := svc.Set(ctx, "u:1", user{ID: "1"}, callerPolicy); err != nil {
		t.Fatalf("Set: %v", err)
	}

	stored, ok := inner.policyOf(svc.encryptKey("u:1"))
	if !ok {
		t.Fatal("inner policy not recorded")
	}
	want := map[string]bool{"users": false, TagSecure: false, TagEncrypted: false}
	for _, tag := range stored.Tags {
		want[tag] = true
	}
	for tag, seen := range want {
		if !seen {
			t.Fatalf("tag %q missing from stored policy %v", tag, stored.Tags)
		}
	}

	if len(callerPolicy.Tags) != 1 || callerPolicy.Tags[0] != "users" {
		t.Fatalf("caller policy mutated: %v", callerPolicy.Tags)
	}
}

func TestSecureRequiresSecret(t *testing.T) {
	if _, err := NewSecure[user](newStubCache[string](), SecureConfig{}); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
