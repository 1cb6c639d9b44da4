package cluster

import (
	"testing"

	"github.com/yndnr/tokmesh-go/internal/crc"
)

func TestKeySlot_Hashtag(t *testing.T) {
	// Keys sharing a hashtag must land on the same slot regardless of the
	// rest of the key, per §3's hashtag rule.
	a := KeySlot([]byte("{user1000}.following"))
	b := KeySlot([]byte("{user1000}.followers"))
	if a != b {
		t.Errorf("keys sharing a hashtag hashed to different slots: %d != %d", a, b)
	}
}

func TestKeySlot_EmptyHashtagFallsBackToWholeKey(t *testing.T) {
	// An empty {} pair ("foo{}bar") has no tag content, so the whole key is
	// hashed, matching real Redis Cluster's documented edge case.
	got := KeySlot([]byte("foo{}bar"))
	whole := int(crc.XModem([]byte("foo{}bar"))) % SlotCount
	if got != whole {
		t.Errorf("KeySlot(foo{}bar) = %d, want whole-key slot %d", got, whole)
	}
}

func TestKeySlot_InRange(t *testing.T) {
	for _, k := range []string{"a", "somekey", "{tag}rest", "", "binary\x00key"} {
		slot := KeySlot([]byte(k))
		if slot < 0 || slot >= SlotCount {
			t.Errorf("KeySlot(%q) = %d, out of [0,%d)", k, slot, SlotCount)
		}
	}
}

func TestKeysShareSlot(t *testing.T) {
	keys := [][]byte{[]byte("{tag}a"), []byte("{tag}b"), []byte("{tag}c")}
	slot, ok := KeysShareSlot(keys)
	if !ok {
		t.Fatal("keys sharing a hashtag should report ok=true")
	}
	if slot != KeySlot(keys[0]) {
		t.Errorf("slot = %d, want %d", slot, KeySlot(keys[0]))
	}

	mixed := [][]byte{[]byte("keyA"), []byte("completely-different-key")}
	if _, ok := KeysShareSlot(mixed); ok {
		t.Skip("keys landed on the same slot by coincidence; not a correctness bug")
	}
}

func TestKeysShareSlot_Empty(t *testing.T) {
	_, ok := KeysShareSlot(nil)
	if !ok {
		t.Error("KeysShareSlot(nil) should report ok=true")
	}
}
