package cluster

import "github.com/yndnr/tokmesh-go/internal/crc"

// SlotCount is the fixed number of hash slots the keyspace is partitioned
// into.
const SlotCount = 16384

// KeySlot computes slot(key) per the spec: CRC16/XMODEM of the hashtag
// substring (the text between the first '{' and the next '}', if that pair
// exists and is non-empty), otherwise of the whole key.
func KeySlot(key []byte) int {
	tag := hashtag(key)
	return int(crc.XModem(tag)) % SlotCount
}

func hashtag(key []byte) []byte {
	start := -1
	for i, b := range key {
		if b == '{' {
			start = i
			break
		}
	}
	if start == -1 {
		return key
	}
	end := -1
	for i := start + 1; i < len(key); i++ {
		if key[i] == '}' {
			end = i
			break
		}
	}
	if end == -1 || end == start+1 {
		return key
	}
	return key[start+1 : end]
}

// KeysShareSlot reports whether every key in keys hashes to the same slot,
// used to enforce CROSSSLOT on multi-key commands.
func KeysShareSlot(keys [][]byte) (slot int, ok bool) {
	if len(keys) == 0 {
		return 0, true
	}
	slot = KeySlot(keys[0])
	for _, k := range keys[1:] {
		if KeySlot(k) != slot {
			return 0, false
		}
	}
	return slot, true
}
