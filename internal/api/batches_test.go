package api

import (
	"context"
	"errors"
	"testing"
)

func TestBatchRegistrySupersedes(t *testing.T) {
	b := newBatchRegistry()
	ctx1, prev, release1 := b.start(context.Background(), "k", "p1")
	if prev != "" {
		t.Fatalf("nothing to supersede, got %q", prev)
	}
	ctx2, prev, release2 := b.start(context.Background(), "k", "p2")
	if prev != "p1" {
		t.Fatalf("expected p1 superseded, got %q", prev)
	}
	if !errors.Is(context.Cause(ctx1), errSuperseded) {
		t.Fatalf("first context should be cancelled as superseded, cause=%v", context.Cause(ctx1))
	}
	release1() // stale release must not drop the newer run
	if b.inflight["k"] == nil || b.inflight["k"].planID != "p2" {
		t.Fatalf("p2 should still be in flight")
	}
	if ctx2.Err() != nil {
		t.Fatalf("second context cancelled early")
	}
	release2()
	if len(b.inflight) != 0 {
		t.Fatalf("registry not cleared: %v", b.inflight)
	}
	if errors.Is(context.Cause(ctx2), errSuperseded) {
		t.Fatalf("released run should not report superseded")
	}
}

func TestBatchRegistryIgnoresEmptyKey(t *testing.T) {
	b := newBatchRegistry()
	ctx1, _, release1 := b.start(context.Background(), "", "p1")
	defer release1()
	_, prev, release2 := b.start(context.Background(), "", "p2")
	defer release2()
	if prev != "" || ctx1.Err() != nil {
		t.Fatalf("requests without a batch key must not supersede each other")
	}
}
