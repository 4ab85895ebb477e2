package engine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/latticebuild/evalengine/engine"
	"github.com/latticebuild/evalengine/engine/demo"
	"github.com/latticebuild/evalengine/engine/key"
)

type recordingListener struct {
	mu      sync.Mutex
	commits []*key.Key
}

func (l *recordingListener) NodeCommitted(k *key.Key, value any, err error, deps []*key.Key) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commits = append(l.commits, k)
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.commits)
}

func TestGraphInspectionListenerObservesEveryCommit(t *testing.T) {
	listener := &recordingListener{}
	e := engine.New(engine.WithNumWorkers(4), engine.WithGraphInspectionListener(listener))
	demo.Register(e)

	if _, err := e.Evaluate(context.Background(), demo.Key(3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Chain(3) commits Chain(0)..Chain(3): 4 nodes.
	if got := listener.count(); got != 4 {
		t.Fatalf("expected the listener to observe 4 commits, got %d", got)
	}
}

func TestSnapshotReportsKnownKeysAfterEvaluate(t *testing.T) {
	e := engine.New(engine.WithNumWorkers(4))
	demo.Register(e)

	if _, err := e.Evaluate(context.Background(), demo.Key(2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snaps := e.Snapshot()
	if len(snaps) != 3 {
		t.Fatalf("expected 3 tracked nodes (Chain(0..2)), got %d", len(snaps))
	}
	for _, s := range snaps {
		if s.State != "done" {
			t.Fatalf("expected every node to be done after a successful Evaluate, got %s for %s", s.State, s.Key)
		}
	}
}
