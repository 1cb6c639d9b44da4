package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/yndnr/tokmesh-go/internal/domainerr"
	"github.com/yndnr/tokmesh-go/internal/resp"
	"github.com/yndnr/tokmesh-go/internal/storage/aof"
	"github.com/yndnr/tokmesh-go/internal/storage/snapshot"
)

// growCommands are the verbs that can grow the keyspace's memory footprint,
// checked against Config.MaxMemory (§7's Resource error kind) before they
// run. Eviction is never implemented, so exceeding the limit always fails
// the command with OOM rather than reclaiming space.
var growCommands = map[string]bool{
	"SET": true, "APPEND": true, "SETRANGE": true,
	"LPUSH": true, "LINSERT": true, "SADD": true,
	internalRestoreCommand: true,
}

// SaveThreshold is one `save <seconds> <writes>` line: a snapshot is
// triggered once at least Writes mutations have happened AND at least
// Seconds have elapsed since the last snapshot. Several thresholds can be
// configured; any one of them being satisfied triggers a snapshot.
type SaveThreshold struct {
	Seconds int
	Writes  int
}

type Config struct {
	DataDir        string
	DBFileName     string // default dump.rdb
	AppendFileName string // default appendonly.aof
	AppendFsync    aof.SyncMode
	SaveThresholds []SaveThreshold
	SweepInterval  time.Duration // default 100ms
	SweepSample    int           // default 20
	MaxMemory      int64         // bytes, 0 = unlimited (§6 "maxmemory")
	Logger         *slog.Logger
}

func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:        dataDir,
		DBFileName:     "dump.rdb",
		AppendFileName: "appendonly.aof",
		AppendFsync:    aof.SyncEverySec,
		SaveThresholds: []SaveThreshold{{Seconds: 900, Writes: 1}, {Seconds: 300, Writes: 10}, {Seconds: 60, Writes: 10000}},
		SweepInterval:  100 * time.Millisecond,
		SweepSample:    20,
		Logger:         slog.Default(),
	}
}

// Engine ties the in-memory Keyspace to the AOF and snapshot files and
// drives the background snapshot/expiry-sweep loops described in §5.
type Engine struct {
	cfg Config
	ks  *Keyspace
	aof *aof.Writer

	writesSinceSnapshot atomic.Int64
	lastSnapshotAt       atomic.Int64 // unix nanos

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(cfg Config) *Engine {
	if cfg.DBFileName == "" {
		cfg.DBFileName = "dump.rdb"
	}
	if cfg.AppendFileName == "" {
		cfg.AppendFileName = "appendonly.aof"
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 100 * time.Millisecond
	}
	if cfg.SweepSample == 0 {
		cfg.SweepSample = 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		ks:     NewKeyspace(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (e *Engine) Keyspace() *Keyspace { return e.ks }

// ExportKey returns key's current value encoded the way CLUSTER RESTORE
// expects it (see cmdRestoreKey), or ok=false if the key is absent, for
// the migration driver to stream a slot's keys to another node.
func (e *Engine) ExportKey(key string) (blob []byte, ttlMillis int64, ok bool) {
	ent := e.ks.ExportEntry(key)
	if ent == nil {
		return nil, 0, false
	}
	rec := entryToRecord(key, ent)
	b, err := snapshot.EncodeRecord(rec)
	if err != nil {
		return nil, 0, false
	}
	if !ent.ExpiresAt.IsZero() {
		ttlMillis = ent.ExpiresAt.UnixMilli()
	}
	return b, ttlMillis, true
}

// RestoreKey applies an exported key through the same path a client's
// CLUSTER RESTORE command would, so it is AOF-logged like any other write.
func (e *Engine) RestoreKey(key string, ttlMillis int64, blob []byte) error {
	_, err := e.Execute([][]byte{
		[]byte(internalRestoreCommand),
		[]byte(key),
		[]byte(strconv.FormatInt(ttlMillis, 10)),
		blob,
	})
	return err
}

// DeleteKey removes key, used by the migration source once a key has been
// confirmed durably restored on the destination.
func (e *Engine) DeleteKey(key string) {
	e.ks.Del([]string{key})
}

// Keys returns every live key currently in the keyspace.
func (e *Engine) Keys() []string { return e.ks.Keys() }

func (e *Engine) dbPath() string  { return e.cfg.DataDir + "/" + e.cfg.DBFileName }
func (e *Engine) aofPath() string { return e.cfg.DataDir + "/" + e.cfg.AppendFileName }

// Recover loads dump.rdb (if present) then replays appendonly.aof on top of
// it, per §4.4's recovery order, then opens the AOF for further appends and
// starts the background loops. A bad snapshot magic or checksum, or a bad
// AOF header, is fatal (exit code 2 is the caller's responsibility to
// apply); an incomplete or malformed AOF tail is discarded with a warning.
func (e *Engine) Recover() error {
	records, err := snapshot.Load(e.dbPath())
	if err != nil {
		return fmt.Errorf("recover: snapshot: %w", err)
	}
	if len(records) > 0 {
		entries := make(map[string]*Entry, len(records))
		for _, r := range records {
			entries[string(r.Key)] = recordToEntry(r)
		}
		e.ks.LoadSnapshot(entries)
		e.cfg.Logger.Info("snapshot loaded", "entries", len(records))
	}

	discarded, err := aof.Replay(e.aofPath(), e.applyReplayedCommand)
	if err != nil {
		return fmt.Errorf("recover: aof: %w", err)
	}
	if discarded > 0 {
		e.cfg.Logger.Warn("aof: discarded truncated trailing record on recovery")
	}

	w, err := aof.Open(aof.Config{Dir: e.cfg.DataDir, FileName: e.cfg.AppendFileName, SyncMode: e.cfg.AppendFsync})
	if err != nil {
		return fmt.Errorf("recover: open aof writer: %w", err)
	}
	e.aof = w
	e.lastSnapshotAt.Store(time.Now().UnixNano())

	go e.backgroundLoop()
	return nil
}

func recordToEntry(r snapshot.Record) *Entry {
	e := &Entry{}
	if r.HasTTL {
		e.ExpiresAt = time.UnixMilli(r.TTLMillis)
	}
	switch r.Tag {
	case snapshot.TagString:
		e.Value = Value{Kind: KindString, Str: r.Str}
	case snapshot.TagList:
		e.Value = Value{Kind: KindList, List: r.Items}
	case snapshot.TagSet:
		set := make(map[string]struct{}, len(r.Items))
		for _, it := range r.Items {
			set[string(it)] = struct{}{}
		}
		e.Value = Value{Kind: KindSet, Set: set}
	}
	return e
}

func entryToRecord(key string, e *Entry) snapshot.Record {
	r := snapshot.Record{Key: []byte(key)}
	if !e.ExpiresAt.IsZero() {
		r.HasTTL = true
		r.TTLMillis = e.ExpiresAt.UnixMilli()
	}
	switch e.Value.Kind {
	case KindString:
		r.Tag = snapshot.TagString
		r.Str = e.Value.Str
	case KindList:
		r.Tag = snapshot.TagList
		r.Items = e.Value.List
	case KindSet:
		r.Tag = snapshot.TagSet
		items := make([][]byte, 0, len(e.Value.Set))
		for m := range e.Value.Set {
			items = append(items, []byte(m))
		}
		r.Items = items
	}
	return r
}

// applyReplayedCommand re-executes one command read back from the AOF
// during recovery, without re-appending it (the log already holds it).
func (e *Engine) applyReplayedCommand(args [][]byte) error {
	_, err := e.dispatch(args, false)
	return err
}

// Execute runs one storage command, appending it to the AOF first if it
// mutates state, matching "all writes update persistence log before
// acknowledging".
func (e *Engine) Execute(args [][]byte) (resp.Value, error) {
	return e.dispatch(args, true)
}

func (e *Engine) dispatch(args [][]byte, persist bool) (resp.Value, error) {
	if len(args) == 0 {
		return resp.Value{}, fmt.Errorf("empty command")
	}
	name := upperASCII(string(args[0]))
	spec, ok := commandTable[name]
	if !ok {
		return resp.Errorf("ERR unknown command '%s'", name), nil
	}
	nargs := len(args) - 1 // arity excludes the command name
	if spec.arity >= 0 && nargs != spec.arity {
		return resp.Errorf("ERR wrong number of arguments for '%s' command", name), nil
	}
	if spec.arity < 0 && nargs < -spec.arity {
		return resp.Errorf("ERR wrong number of arguments for '%s' command", name), nil
	}

	if e.cfg.MaxMemory > 0 && growCommands[name] && e.ks.ApproxMemoryUsage() >= e.cfg.MaxMemory {
		return translateError(domainerr.ErrOOM), nil
	}

	v, mutated, err := spec.fn(e, args[1:])
	if err != nil {
		return translateError(err), nil
	}
	if mutated && persist && e.aof != nil {
		if werr := e.aof.Append(resp.EncodeCommandBytes(args)); werr != nil {
			e.cfg.Logger.Error("aof append failed", "err", werr)
			return resp.Value{}, werr // fatal: acknowledged writes must be durable
		}
		e.writesSinceSnapshot.Add(1)
	}
	return v, nil
}

func translateError(err error) resp.Value {
	var de *domainerr.DomainError
	if errors.As(err, &de) {
		return resp.Error(de.RESPLine())
	}
	return resp.Errorf("ERR %s", err.Error())
}

func upperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

// TriggerSnapshot writes dump.rdb from the current keyspace contents and,
// once the rename succeeds, truncates the AOF — the spec's "old log
// truncated to zero only after the rename succeeds" ordering.
func (e *Engine) TriggerSnapshot() error {
	entries := e.ks.Snapshot()
	records := make([]snapshot.Record, 0, len(entries))
	for key, ent := range entries {
		records = append(records, entryToRecord(key, ent))
	}
	if err := snapshot.Save(e.dbPath(), records); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := e.aof.Truncate(); err != nil {
		return fmt.Errorf("snapshot: truncate aof: %w", err)
	}
	e.writesSinceSnapshot.Store(0)
	e.lastSnapshotAt.Store(time.Now().UnixNano())
	e.cfg.Logger.Info("snapshot written", "entries", len(records))
	return nil
}

func (e *Engine) shouldSnapshot() bool {
	writes := e.writesSinceSnapshot.Load()
	if writes == 0 {
		return false
	}
	elapsed := time.Since(time.Unix(0, e.lastSnapshotAt.Load()))
	for _, t := range e.cfg.SaveThresholds {
		if writes >= int64(t.Writes) && elapsed >= time.Duration(t.Seconds)*time.Second {
			return true
		}
	}
	return false
}

func (e *Engine) backgroundLoop() {
	defer close(e.doneCh)
	snapTicker := time.NewTicker(time.Second)
	sweepTicker := time.NewTicker(e.cfg.SweepInterval)
	defer snapTicker.Stop()
	defer sweepTicker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-snapTicker.C:
			if e.shouldSnapshot() {
				if err := e.TriggerSnapshot(); err != nil {
					e.cfg.Logger.Error("snapshot failed, will retry next interval", "err", err)
				}
			}
		case <-sweepTicker.C:
			e.ks.SweepExpired(e.cfg.SweepSample)
		}
	}
}

func (e *Engine) Close() error {
	select {
	case <-e.stopCh:
		return nil // already closed
	default:
	}
	close(e.stopCh)
	<-e.doneCh
	if e.aof != nil {
		return e.aof.Close()
	}
	return nil
}
