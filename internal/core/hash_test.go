package core

import (
	"encoding/json"
	"testing"
)

func TestComputeRequestHash_Deterministic(t *testing.T) {
	body := json.RawMessage(`{"os":"linux","tier":"standard"}`)
	h1 := ComputeRequestHash(body, "POST", "/v1/workspaces")
	h2 := ComputeRequestHash(body, "POST", "/v1/workspaces")
	if h1 != h2 {
		t.Fatalf("same input produced different hashes: %s vs %s", h1, h2)
	}
}

func TestComputeRequestHash_KeyOrderIrrelevant(t *testing.T) {
	body1 := json.RawMessage(`{"tier":"standard","os":"linux"}`)
	body2 := json.RawMessage(`{"os":"linux","tier":"standard"}`)
	h1 := ComputeRequestHash(body1, "POST", "/v1/workspaces")
	h2 := ComputeRequestHash(body2, "POST", "/v1/workspaces")
	if h1 != h2 {
		t.Fatalf("different key order produced different hashes: %s vs %s", h1, h2)
	}
}

func TestComputeRequestHash_DifferentBody(t *testing.T) {
	body1 := json.RawMessage(`{"tier":"standard"}`)
	body2 := json.RawMessage(`{"tier":"power"}`)
	h1 := ComputeRequestHash(body1, "POST", "/v1/workspaces")
	h2 := ComputeRequestHash(body2, "POST", "/v1/workspaces")
	if h1 == h2 {
		t.Fatal("different bodies produced same hash")
	}
}
