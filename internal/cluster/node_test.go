package cluster

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateNodeID_PersistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	id1, err := LoadOrCreateNodeID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateNodeID failed: %v", err)
	}
	if len(id1) != 40 {
		t.Fatalf("id length = %d, want 40", len(id1))
	}

	id2, err := LoadOrCreateNodeID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateNodeID (2nd call) failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("id changed across calls: %q != %q", id1, id2)
	}
}

func TestLoadOrCreateNodeID_IgnoresCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "nodeid"), []byte("too-short"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	id, err := LoadOrCreateNodeID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateNodeID failed: %v", err)
	}
	if len(id) != 40 {
		t.Errorf("id length = %d, want 40 (should have regenerated)", len(id))
	}
}

func TestNodeDescriptor_Addrs(t *testing.T) {
	nd := NodeDescriptor{Host: "10.0.0.5", ClientPort: 6379, PeerPort: 16379}
	if nd.ClientAddr() != "10.0.0.5:6379" {
		t.Errorf("ClientAddr() = %q, want 10.0.0.5:6379", nd.ClientAddr())
	}
	if nd.PeerAddr() != "10.0.0.5:16379" {
		t.Errorf("PeerAddr() = %q, want 10.0.0.5:16379", nd.PeerAddr())
	}
}

func TestNodeState_String(t *testing.T) {
	cases := map[NodeState]string{
		StateJoining: "joining",
		StateLive:    "live",
		StateLeaving: "leaving",
		StateDead:    "dead",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
