package labelvol

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEngineGate(t *testing.T) {
	e, err := NewEngine(Config{ScratchRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("unable to create engine: %v", err)
	}
	defer e.Close()

	// With the permit held, an entry point must wait and then give up
	// when its context expires.
	if err := e.acquire(context.Background()); err != nil {
		t.Fatalf("unable to take free permit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := e.Merge(ctx, MergeRequest{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("merge on a held engine returned %v, want deadline exceeded", err)
	}
	e.release()

	// Released permit lets the next operation through.
	if _, err := e.Merge(context.Background(), MergeRequest{}); err != nil {
		t.Fatalf("merge after release failed: %v", err)
	}
}

func TestEnginesIndependent(t *testing.T) {
	e1, err := NewEngine(Config{ScratchRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("unable to create engine: %v", err)
	}
	defer e1.Close()
	e2, err := NewEngine(Config{ScratchRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("unable to create engine: %v", err)
	}
	defer e2.Close()

	if err := e1.acquire(context.Background()); err != nil {
		t.Fatalf("unable to take free permit: %v", err)
	}
	defer e1.release()

	// One engine's permit never blocks another engine.
	if _, err := e2.Merge(context.Background(), MergeRequest{}); err != nil {
		t.Fatalf("merge on independent engine failed: %v", err)
	}
}
