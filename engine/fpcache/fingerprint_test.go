package fpcache

import (
	"encoding/json"
	"testing"
)

func TestComputeIsOrderIndependent(t *testing.T) {
	a := json.RawMessage(`{"b":2,"a":1}`)
	b := json.RawMessage(`{"a":1,"b":2}`)

	fpA, _, err := Compute(a, "dist")
	if err != nil {
		t.Fatalf("compute a: %v", err)
	}
	fpB, _, err := Compute(b, "dist")
	if err != nil {
		t.Fatalf("compute b: %v", err)
	}
	if fpA != fpB {
		t.Fatalf("expected reordered object keys to fingerprint identically, got %q != %q", fpA, fpB)
	}
}

func TestComputeDistinguishesByDistinguisher(t *testing.T) {
	value := json.RawMessage(`{"x":1}`)

	fpA, _, err := Compute(value, "parent-context")
	if err != nil {
		t.Fatalf("compute with dist A: %v", err)
	}
	fpB, _, err := Compute(value, "other-context")
	if err != nil {
		t.Fatalf("compute with dist B: %v", err)
	}
	if fpA == fpB {
		t.Fatalf("expected distinct distinguishers to yield distinct fingerprints for the same payload")
	}
}

func TestComputePreservesArrayOrder(t *testing.T) {
	a := json.RawMessage(`[1,2,3]`)
	b := json.RawMessage(`[3,2,1]`)

	fpA, _, err := Compute(a, "")
	if err != nil {
		t.Fatalf("compute a: %v", err)
	}
	fpB, _, err := Compute(b, "")
	if err != nil {
		t.Fatalf("compute b: %v", err)
	}
	if fpA == fpB {
		t.Fatalf("expected arrays with different element order to fingerprint differently")
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	value := map[string]any{"name": "widget", "count": 3, "nested": map[string]any{"z": 1, "a": 2}}

	fp1, canon1, err := Compute(value, "tag")
	if err != nil {
		t.Fatalf("first compute: %v", err)
	}
	fp2, canon2, err := Compute(value, "tag")
	if err != nil {
		t.Fatalf("second compute: %v", err)
	}
	if fp1 != fp2 {
		t.Fatalf("expected repeated Compute on the same value to agree, got %q != %q", fp1, fp2)
	}
	if string(canon1) != string(canon2) {
		t.Fatalf("expected canonical bytes to be repeatable, got %q != %q", canon1, canon2)
	}
}
