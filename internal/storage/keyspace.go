package storage

import (
	"sync"
	"time"

	"github.com/yndnr/tokmesh-go/internal/domainerr"
)

// ErrWrongType and ErrOutOfRange are the sentinels command implementations
// return when an entry's Kind doesn't match the operation, or an index
// falls outside a list's bounds. They alias the package-level DomainError
// values so storage stays free of its own parallel error taxonomy.
var (
	ErrWrongType  = domainerr.ErrWrongType
	ErrOutOfRange = domainerr.ErrOutOfRange
)

// Keyspace is the per-node mapping from key to Entry. It is guarded by one
// logical lock for the whole map, acquired for a command's full duration:
// the spec's node-wide linearizability invariant ("effect of an
// acknowledged write visible to any subsequent command") requires a single
// writer discipline the predecessor's per-shard pkg/cmap cannot provide on
// its own, so this is a plain mutex rather than the sharded map used for
// the pub/sub subscription table.
type Keyspace struct {
	mu   sync.RWMutex
	data map[string]*Entry
}

func NewKeyspace() *Keyspace {
	return &Keyspace{data: make(map[string]*Entry)}
}

// lookup returns the live entry for key, deleting it first if expired.
// Called with mu already held for write.
func (k *Keyspace) lookup(key string, now time.Time) *Entry {
	e, ok := k.data[key]
	if !ok {
		return nil
	}
	if e.expired(now) {
		delete(k.data, key)
		return nil
	}
	return e
}

// ---- String ----

type SetOptions struct {
	ExpireAt time.Time // zero: clear/no expiry
	HasExpire bool
}

func (k *Keyspace) Set(key string, value []byte, opt SetOptions) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := newStringEntry(append([]byte(nil), value...))
	if opt.HasExpire {
		e.ExpiresAt = opt.ExpireAt
	}
	k.data[key] = e
}

func (k *Keyspace) Get(key string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		return nil, nil
	}
	if e.Value.Kind != KindString {
		return nil, ErrWrongType
	}
	return e.Value.Str, nil
}

func (k *Keyspace) Append(key string, suffix []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		e = newStringEntry(nil)
		k.data[key] = e
	} else if e.Value.Kind != KindString {
		return 0, ErrWrongType
	}
	e.Value.Str = append(e.Value.Str, suffix...)
	return len(e.Value.Str), nil
}

func (k *Keyspace) Strlen(key string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		return 0, nil
	}
	if e.Value.Kind != KindString {
		return 0, ErrWrongType
	}
	return len(e.Value.Str), nil
}

func (k *Keyspace) GetRange(key string, start, end int) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		return []byte{}, nil
	}
	if e.Value.Kind != KindString {
		return nil, ErrWrongType
	}
	s := e.Value.Str
	lo, hi := clampRange(start, end, len(s))
	if lo > hi {
		return []byte{}, nil
	}
	return append([]byte(nil), s[lo:hi+1]...), nil
}

func (k *Keyspace) SetRange(key string, offset int, value []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		e = newStringEntry(nil)
		k.data[key] = e
	} else if e.Value.Kind != KindString {
		return 0, ErrWrongType
	}
	need := offset + len(value)
	if need > len(e.Value.Str) {
		padded := make([]byte, need)
		copy(padded, e.Value.Str)
		e.Value.Str = padded
	}
	copy(e.Value.Str[offset:], value)
	return len(e.Value.Str), nil
}

// clampRange resolves Redis-style inclusive, possibly negative, indices
// against a length, clamping to valid bounds. Returns lo > hi when the
// resolved range is empty.
func clampRange(start, end, length int) (int, int) {
	if length == 0 {
		return 0, -1
	}
	if start < 0 {
		start += length
	}
	if end < 0 {
		end += length
	}
	if start < 0 {
		start = 0
	}
	if end >= length {
		end = length - 1
	}
	if start > end || start >= length {
		return 0, -1
	}
	return start, end
}

// ---- List ----

func (k *Keyspace) LPush(key string, values [][]byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		e = newListEntry()
		k.data[key] = e
	} else if e.Value.Kind != KindList {
		return 0, ErrWrongType
	}
	for _, v := range values {
		e.Value.List = append([][]byte{append([]byte(nil), v...)}, e.Value.List...)
	}
	return len(e.Value.List), nil
}

func (k *Keyspace) LRange(key string, start, stop int) ([][]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		return nil, nil
	}
	if e.Value.Kind != KindList {
		return nil, ErrWrongType
	}
	lo, hi := clampRange(start, stop, len(e.Value.List))
	if lo > hi {
		return nil, nil
	}
	out := make([][]byte, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, e.Value.List[i])
	}
	return out, nil
}

func (k *Keyspace) LLen(key string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		return 0, nil
	}
	if e.Value.Kind != KindList {
		return 0, ErrWrongType
	}
	return len(e.Value.List), nil
}

// LPop removes and returns up to count elements from the head. count < 0
// indicates the no-count form, which returns a single element rather than
// an array.
func (k *Keyspace) LPop(key string, count int) ([][]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		return nil, nil
	}
	if e.Value.Kind != KindList {
		return nil, ErrWrongType
	}
	n := count
	if n < 0 {
		n = 1
	}
	if n > len(e.Value.List) {
		n = len(e.Value.List)
	}
	if n == 0 {
		return nil, nil
	}
	out := e.Value.List[:n]
	e.Value.List = e.Value.List[n:]
	if len(e.Value.List) == 0 {
		delete(k.data, key)
	}
	return out, nil
}

func (k *Keyspace) LIndex(key string, idx int) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		return nil, nil
	}
	if e.Value.Kind != KindList {
		return nil, ErrWrongType
	}
	if idx < 0 {
		idx += len(e.Value.List)
	}
	if idx < 0 || idx >= len(e.Value.List) {
		return nil, nil
	}
	return e.Value.List[idx], nil
}

func (k *Keyspace) LSet(key string, idx int, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		return ErrOutOfRange
	}
	if e.Value.Kind != KindList {
		return ErrWrongType
	}
	if idx < 0 {
		idx += len(e.Value.List)
	}
	if idx < 0 || idx >= len(e.Value.List) {
		return ErrOutOfRange
	}
	e.Value.List[idx] = append([]byte(nil), value...)
	return nil
}

// LInsert returns the new length, -1 if pivot not found, or 0 if key is
// missing, matching the spec's three-way result.
func (k *Keyspace) LInsert(key string, before bool, pivot, value []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		return 0, nil
	}
	if e.Value.Kind != KindList {
		return 0, ErrWrongType
	}
	idx := -1
	for i, v := range e.Value.List {
		if bytesEqual(v, pivot) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return -1, nil
	}
	at := idx
	if !before {
		at = idx + 1
	}
	list := e.Value.List
	list = append(list[:at], append([][]byte{append([]byte(nil), value...)}, list[at:]...)...)
	e.Value.List = list
	return len(list), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ---- Set ----

func (k *Keyspace) SAdd(key string, members [][]byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		e = newSetEntry()
		k.data[key] = e
	} else if e.Value.Kind != KindSet {
		return 0, ErrWrongType
	}
	added := 0
	for _, m := range members {
		s := string(m)
		if _, ok := e.Value.Set[s]; !ok {
			e.Value.Set[s] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (k *Keyspace) SMembers(key string) ([][]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		return nil, nil
	}
	if e.Value.Kind != KindSet {
		return nil, ErrWrongType
	}
	out := make([][]byte, 0, len(e.Value.Set))
	for m := range e.Value.Set {
		out = append(out, []byte(m))
	}
	return out, nil
}

func (k *Keyspace) SIsMember(key string, member []byte) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		return false, nil
	}
	if e.Value.Kind != KindSet {
		return false, ErrWrongType
	}
	_, ok := e.Value.Set[string(member)]
	return ok, nil
}

func (k *Keyspace) SCard(key string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		return 0, nil
	}
	if e.Value.Kind != KindSet {
		return 0, ErrWrongType
	}
	return len(e.Value.Set), nil
}

// setsFor returns a defensive copy of each named key's set, treating a
// missing key as an empty set, under a single critical section so the
// algebra below sees a consistent snapshot.
func (k *Keyspace) setsFor(keys []string) ([]map[string]struct{}, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := time.Now()
	out := make([]map[string]struct{}, len(keys))
	for i, key := range keys {
		e := k.lookup(key, now)
		if e == nil {
			out[i] = map[string]struct{}{}
			continue
		}
		if e.Value.Kind != KindSet {
			return nil, ErrWrongType
		}
		cp := make(map[string]struct{}, len(e.Value.Set))
		for m := range e.Value.Set {
			cp[m] = struct{}{}
		}
		out[i] = cp
	}
	return out, nil
}

func (k *Keyspace) SInter(keys []string) ([][]byte, error) {
	sets, err := k.setsFor(keys)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, nil
	}
	result := make([][]byte, 0)
	for m := range sets[0] {
		inAll := true
		for _, s := range sets[1:] {
			if _, ok := s[m]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			result = append(result, []byte(m))
		}
	}
	return result, nil
}

func (k *Keyspace) SUnion(keys []string) ([][]byte, error) {
	sets, err := k.setsFor(keys)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, s := range sets {
		for m := range s {
			seen[m] = struct{}{}
		}
	}
	result := make([][]byte, 0, len(seen))
	for m := range seen {
		result = append(result, []byte(m))
	}
	return result, nil
}

func (k *Keyspace) SDiff(keys []string) ([][]byte, error) {
	sets, err := k.setsFor(keys)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, nil
	}
	result := make([][]byte, 0)
	for m := range sets[0] {
		excluded := false
		for _, s := range sets[1:] {
			if _, ok := s[m]; ok {
				excluded = true
				break
			}
		}
		if !excluded {
			result = append(result, []byte(m))
		}
	}
	return result, nil
}

// ---- General ----

func (k *Keyspace) Del(keys []string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := time.Now()
	removed := 0
	for _, key := range keys {
		if k.lookup(key, now) != nil {
			delete(k.data, key)
			removed++
		}
	}
	return removed
}

func (k *Keyspace) Exists(keys []string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := time.Now()
	count := 0
	for _, key := range keys {
		if k.lookup(key, now) != nil {
			count++
		}
	}
	return count
}

func (k *Keyspace) Type(key string) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		return "none"
	}
	return e.Value.Kind.String()
}

// ---- Expiry sweep ----

// SweepExpired samples up to sampleSize random keys and deletes any that
// have expired, mirroring the predecessor's memory.Store.CleanupExpired
// random-sampling sweep rather than a full-table scan on every tick.
func (k *Keyspace) SweepExpired(sampleSize int) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.data) == 0 {
		return 0
	}
	now := time.Now()
	removed := 0
	seen := 0
	for key, e := range k.data {
		if seen >= sampleSize {
			break
		}
		seen++
		if e.expired(now) {
			delete(k.data, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored keys, used for metrics. Expired keys
// that have not yet been removed are still counted; no sweep is done.
func (k *Keyspace) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.data)
}

// Snapshot returns a deep copy of every live entry, for snapshot-file
// creation. It holds the write lock for the duration, consistent with
// treating a snapshot as a single logical command.
func (k *Keyspace) Snapshot() map[string]*Entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := time.Now()
	out := make(map[string]*Entry, len(k.data))
	for key, e := range k.data {
		if e.expired(now) {
			delete(k.data, key)
			continue
		}
		out[key] = cloneEntry(e)
	}
	return out
}

func cloneEntry(e *Entry) *Entry {
	clone := &Entry{ExpiresAt: e.ExpiresAt, Value: Value{Kind: e.Value.Kind}}
	switch e.Value.Kind {
	case KindString:
		clone.Value.Str = append([]byte(nil), e.Value.Str...)
	case KindList:
		clone.Value.List = make([][]byte, len(e.Value.List))
		for i, v := range e.Value.List {
			clone.Value.List[i] = append([]byte(nil), v...)
		}
	case KindSet:
		clone.Value.Set = make(map[string]struct{}, len(e.Value.Set))
		for m := range e.Value.Set {
			clone.Value.Set[m] = struct{}{}
		}
	}
	return clone
}

// LoadSnapshot replaces the keyspace contents wholesale, used during
// startup recovery before AOF replay begins.
func (k *Keyspace) LoadSnapshot(entries map[string]*Entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data = entries
}

// RestoreEntry installs a single prebuilt entry, overwriting whatever was
// at key. Used by CLUSTER RESTORE to install a key migrated in from
// another node without going through the String/List/Set command surface.
func (k *Keyspace) RestoreEntry(key string, e *Entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = e
}

// ExportEntry returns a deep copy of key's live entry, or nil if absent or
// expired, for migration export (CLUSTER MIGRATE streaming a slot's keys
// out to the destination node).
func (k *Keyspace) ExportEntry(key string) *Entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.lookup(key, time.Now())
	if e == nil {
		return nil
	}
	return cloneEntry(e)
}

// Keys returns every live key, for the migration driver to filter by slot.
func (k *Keyspace) Keys() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := time.Now()
	out := make([]string, 0, len(k.data))
	for key, e := range k.data {
		if e.expired(now) {
			delete(k.data, key)
			continue
		}
		out = append(out, key)
	}
	return out
}

// ApproxMemoryUsage sums the byte size of every live key and value, used to
// enforce Config.MaxMemory (§7's OOM error kind). It is a full scan rather
// than incrementally tracked accounting: simpler and safe to reason about,
// at the cost of O(n) work per mutating command once maxmemory is set.
func (k *Keyspace) ApproxMemoryUsage() int64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var total int64
	for key, e := range k.data {
		total += int64(len(key))
		switch e.Value.Kind {
		case KindString:
			total += int64(len(e.Value.Str))
		case KindList:
			for _, v := range e.Value.List {
				total += int64(len(v))
			}
		case KindSet:
			for m := range e.Value.Set {
				total += int64(len(m))
			}
		}
	}
	return total
}
