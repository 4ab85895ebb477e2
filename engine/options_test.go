package engine

import (
	"testing"
	"time"
)

func TestWithNumWorkersIgnoresNonPositive(t *testing.T) {
	rt := &Runtime{numWorkers: 8}
	WithNumWorkers(0)(rt)
	if rt.numWorkers != 8 {
		t.Fatalf("expected non-positive WithNumWorkers to be ignored, got %d", rt.numWorkers)
	}
	WithNumWorkers(3)(rt)
	if rt.numWorkers != 3 {
		t.Fatalf("expected WithNumWorkers(3) to set numWorkers, got %d", rt.numWorkers)
	}
}

func TestWithQueueDepthIgnoresNonPositive(t *testing.T) {
	rt := &Runtime{queueDepth: 1024}
	WithQueueDepth(-1)(rt)
	if rt.queueDepth != 1024 {
		t.Fatalf("expected negative WithQueueDepth to be ignored, got %d", rt.queueDepth)
	}
	WithQueueDepth(16)(rt)
	if rt.queueDepth != 16 {
		t.Fatalf("expected WithQueueDepth(16) to set queueDepth, got %d", rt.queueDepth)
	}
}

func TestWithKeepGoing(t *testing.T) {
	rt := &Runtime{}
	WithKeepGoing(true)(rt)
	if !rt.keepGoing {
		t.Fatalf("expected keepGoing true")
	}
}

func TestWithIdleGCIgnoresNonPositive(t *testing.T) {
	rt := &Runtime{}
	WithIdleGC(0)(rt)
	if rt.idleGC != nil {
		t.Fatalf("expected non-positive WithIdleGC to be ignored")
	}
	WithIdleGC(time.Minute)(rt)
	if rt.idleGC == nil {
		t.Fatalf("expected WithIdleGC to set a limiter")
	}
}

func TestWithEmitterIgnoresNil(t *testing.T) {
	rt := newRuntime(NewNodeStore(), nil, NewRegistry())
	original := rt.emitter
	WithEmitter(nil)(rt)
	if rt.emitter != original {
		t.Fatalf("expected nil emitter to be ignored")
	}
}
