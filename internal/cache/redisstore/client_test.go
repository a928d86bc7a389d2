package redisstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestSetGet_HappyPath(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "k1", []byte("v1"), 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := rc.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("Get=%q want v1", got)
	}
}

func TestGet_MissingKeyIsNotAnError(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := rc.Get(ctx, "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing key, got %q", got)
	}
}

func TestNew_EmptyAddrRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := New(ctx, ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestChunkCache_RoundTripAndTTL(t *testing.T) {
	rc, mr := newMini(t)
	cc := NewChunkCache(rc, time.Minute, 250*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, found, err := cc.Get(ctx, "chunk"); err != nil || found {
		t.Fatalf("empty cache: found=%v err=%v", found, err)
	}
	if err := cc.Set(ctx, "chunk", []byte{1, 2, 3}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, found, err := cc.Get(ctx, "chunk")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if len(got) != 3 || got[0] != 1 {
		t.Fatalf("unexpected value %v", got)
	}

	mr.FastForward(2 * time.Minute)
	if _, found, _ := cc.Get(ctx, "chunk"); found {
		t.Fatal("expected expiry after TTL")
	}
}
