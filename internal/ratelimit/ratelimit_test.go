package ratelimit

import "testing"

func TestAllowRespectsBurstThenBlocks(t *testing.T) {
	l := New(1, 2)

	if !l.Allow("key1") {
		t.Fatal("expected first request to be allowed")
	}
	if !l.Allow("key1") {
		t.Fatal("expected second request (within burst) to be allowed")
	}
	if l.Allow("key1") {
		t.Fatal("expected third immediate request to be rejected")
	}
}

func TestAllowIsPerKey(t *testing.T) {
	l := New(1, 1)

	if !l.Allow("key1") {
		t.Fatal("expected key1 first request to be allowed")
	}
	if !l.Allow("key2") {
		t.Fatal("expected key2 to have its own independent bucket")
	}
	if l.Allow("key1") {
		t.Fatal("expected key1 to be exhausted")
	}
}
