package cluster

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// NodeState mirrors the lifecycle §3 defines for a node descriptor.
type NodeState int

const (
	// StateUnknown is the zero value, carried by a NodeDescriptor whose
	// State was never set — Upsert treats it as "no state opinion" rather
	// than a real lifecycle stage, so it never clobbers a known state.
	StateUnknown NodeState = iota
	StateJoining
	StateLive
	StateLeaving
	StateDead
)

func (s NodeState) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateLive:
		return "live"
	case StateLeaving:
		return "leaving"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// NodeDescriptor is one entry in the membership table.
type NodeDescriptor struct {
	ID         string
	Host       string
	ClientPort int
	PeerPort   int
	State      NodeState
	LastSeen   time.Time
	Epoch      uint64
}

func (n NodeDescriptor) PeerAddr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.PeerPort)
}

func (n NodeDescriptor) ClientAddr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.ClientPort)
}

// LoadOrCreateNodeID reads the 40-hex-char node id persisted at
// <dir>/nodeid, generating and persisting a fresh one on first boot. This
// closes a gap the predecessor left open: it minted a new random id on
// every process start, which would have made a restarted node's prior slot
// ownership claims unrecognizable to its peers.
func LoadOrCreateNodeID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "nodeid")
	if b, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(b))
		if len(id) == 40 {
			return id, nil
		}
	}
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cluster: generate node id: %w", err)
	}
	id := hex.EncodeToString(buf)
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return "", fmt.Errorf("cluster: mkdir data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("cluster: persist node id: %w", err)
	}
	return id, nil
}
