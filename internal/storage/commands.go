package storage

import (
	"strconv"
	"time"

	"github.com/yndnr/tokmesh-go/internal/resp"
	"github.com/yndnr/tokmesh-go/internal/storage/snapshot"
)

// internalRestoreCommand is the command-table name for CLUSTER RESTORE's
// underlying keyspace mutation. It is not a client-facing verb; the
// redisserver command router translates "CLUSTER RESTORE key ttl value"
// into this before calling Engine.Execute, so restoring a migrated key
// goes through the same AOF-then-acknowledge path as every other write.
const internalRestoreCommand = "__RESTORE"

// commandFn executes one command's arguments (excluding the command name
// itself) and reports whether it mutated the keyspace, so the caller knows
// whether to append the original command to the AOF.
type commandFn func(e *Engine, args [][]byte) (resp.Value, bool, error)

type commandSpec struct {
	// arity: positive means exact argument count (name excluded, so SET key
	// value is arity 2); negative means "at least" -arity.
	arity int
	fn    commandFn
}

var commandTable map[string]commandSpec

func init() {
	commandTable = map[string]commandSpec{
		"SET":       {-2, cmdSet},
		"GET":       {1, cmdGet},
		"APPEND":    {2, cmdAppend},
		"STRLEN":    {1, cmdStrlen},
		"GETRANGE":  {3, cmdGetRange},
		"SETRANGE":  {3, cmdSetRange},
		"LPUSH":     {-2, cmdLPush},
		"LRANGE":    {3, cmdLRange},
		"LLEN":      {1, cmdLLen},
		"LPOP":      {-1, cmdLPop},
		"LINDEX":    {2, cmdLIndex},
		"LSET":      {3, cmdLSet},
		"LINSERT":   {4, cmdLInsert},
		"SADD":      {-2, cmdSAdd},
		"SMEMBERS":  {1, cmdSMembers},
		"SISMEMBER": {2, cmdSIsMember},
		"SCARD":     {1, cmdSCard},
		"SINTER":    {-1, cmdSInter},
		"SUNION":    {-1, cmdSUnion},
		"SDIFF":     {-1, cmdSDiff},
		"DEL":       {-1, cmdDel},
		"EXISTS":    {-1, cmdExists},
		"TYPE":      {1, cmdType},
		internalRestoreCommand: {3, cmdRestoreKey},
	}
}

func bulkArray(items [][]byte) resp.Value {
	vals := make([]resp.Value, len(items))
	for i, it := range items {
		vals[i] = resp.Bulk(it)
	}
	return resp.Array(vals)
}

// cmdSet handles SET key value [EX secs|PX ms|PXAT unix-ms]. EX/PX express a
// relative expiry, but the AOF must log a time-independent record (§9's
// absolute-expiry resolution): once an expire is resolved, this rewrites the
// EX/PX token pair in place to PXAT <absolute-unix-ms>, in args' backing
// array, so the Execute caller appends the rewritten, replay-safe form to
// the AOF instead of the original relative one. Replay itself only ever
// sees PXAT, since that's what was persisted.
func cmdSet(e *Engine, args []byte2D) (resp.Value, bool, error) {
	key, value := string(args[0]), args[1]
	opt := SetOptions{}
	for i := 2; i < len(args); i++ {
		switch upperASCII(string(args[i])) {
		case "EX":
			optIdx := i
			i++
			if i >= len(args) {
				return resp.Error("ERR syntax error"), false, nil
			}
			secs, err := strconv.Atoi(string(args[i]))
			if err != nil {
				return resp.Error("ERR value is not an integer or out of range"), false, nil
			}
			opt.HasExpire = true
			opt.ExpireAt = time.Now().Add(time.Duration(secs) * time.Second)
			args[optIdx] = []byte("PXAT")
			args[i] = []byte(strconv.FormatInt(opt.ExpireAt.UnixMilli(), 10))
		case "PX":
			optIdx := i
			i++
			if i >= len(args) {
				return resp.Error("ERR syntax error"), false, nil
			}
			ms, err := strconv.Atoi(string(args[i]))
			if err != nil {
				return resp.Error("ERR value is not an integer or out of range"), false, nil
			}
			opt.HasExpire = true
			opt.ExpireAt = time.Now().Add(time.Duration(ms) * time.Millisecond)
			args[optIdx] = []byte("PXAT")
			args[i] = []byte(strconv.FormatInt(opt.ExpireAt.UnixMilli(), 10))
		case "PXAT":
			i++
			if i >= len(args) {
				return resp.Error("ERR syntax error"), false, nil
			}
			ms, err := strconv.ParseInt(string(args[i]), 10, 64)
			if err != nil {
				return resp.Error("ERR value is not an integer or out of range"), false, nil
			}
			opt.HasExpire = true
			opt.ExpireAt = time.UnixMilli(ms)
		default:
			return resp.Error("ERR syntax error"), false, nil
		}
	}
	e.ks.Set(key, value, opt)
	return resp.SimpleString("OK"), true, nil
}

func cmdGet(e *Engine, args []byte2D) (resp.Value, bool, error) {
	v, err := e.ks.Get(string(args[0]))
	if err != nil {
		return resp.Value{}, false, err
	}
	if v == nil {
		return resp.NullBulk(), false, nil
	}
	return resp.Bulk(v), false, nil
}

func cmdAppend(e *Engine, args []byte2D) (resp.Value, bool, error) {
	n, err := e.ks.Append(string(args[0]), args[1])
	if err != nil {
		return resp.Value{}, false, err
	}
	return resp.Integer(int64(n)), true, nil
}

func cmdStrlen(e *Engine, args []byte2D) (resp.Value, bool, error) {
	n, err := e.ks.Strlen(string(args[0]))
	if err != nil {
		return resp.Value{}, false, err
	}
	return resp.Integer(int64(n)), false, nil
}

func cmdGetRange(e *Engine, args []byte2D) (resp.Value, bool, error) {
	start, err1 := strconv.Atoi(string(args[1]))
	end, err2 := strconv.Atoi(string(args[2]))
	if err1 != nil || err2 != nil {
		return resp.Error("ERR value is not an integer or out of range"), false, nil
	}
	b, err := e.ks.GetRange(string(args[0]), start, end)
	if err != nil {
		return resp.Value{}, false, err
	}
	return resp.Bulk(b), false, nil
}

func cmdSetRange(e *Engine, args []byte2D) (resp.Value, bool, error) {
	offset, err1 := strconv.Atoi(string(args[1]))
	if err1 != nil || offset < 0 {
		return resp.Error("ERR value is not an integer or out of range"), false, nil
	}
	n, err := e.ks.SetRange(string(args[0]), offset, args[2])
	if err != nil {
		return resp.Value{}, false, err
	}
	return resp.Integer(int64(n)), true, nil
}

func cmdLPush(e *Engine, args []byte2D) (resp.Value, bool, error) {
	n, err := e.ks.LPush(string(args[0]), args[1:])
	if err != nil {
		return resp.Value{}, false, err
	}
	return resp.Integer(int64(n)), true, nil
}

func cmdLRange(e *Engine, args []byte2D) (resp.Value, bool, error) {
	start, err1 := strconv.Atoi(string(args[1]))
	stop, err2 := strconv.Atoi(string(args[2]))
	if err1 != nil || err2 != nil {
		return resp.Error("ERR value is not an integer or out of range"), false, nil
	}
	items, err := e.ks.LRange(string(args[0]), start, stop)
	if err != nil {
		return resp.Value{}, false, err
	}
	return bulkArray(items), false, nil
}

func cmdLLen(e *Engine, args []byte2D) (resp.Value, bool, error) {
	n, err := e.ks.LLen(string(args[0]))
	if err != nil {
		return resp.Value{}, false, err
	}
	return resp.Integer(int64(n)), false, nil
}

func cmdLPop(e *Engine, args []byte2D) (resp.Value, bool, error) {
	if len(args) == 0 {
		return resp.Error("ERR wrong number of arguments for 'lpop' command"), false, nil
	}
	count := -1
	hasCount := false
	if len(args) == 2 {
		n, err := strconv.Atoi(string(args[1]))
		if err != nil || n < 0 {
			return resp.Error("ERR value is out of range, must be positive"), false, nil
		}
		count = n
		hasCount = true
	} else if len(args) != 1 {
		return resp.Error("ERR wrong number of arguments for 'lpop' command"), false, nil
	}
	items, err := e.ks.LPop(string(args[0]), count)
	if err != nil {
		return resp.Value{}, false, err
	}
	mutated := len(items) > 0
	if !hasCount {
		if len(items) == 0 {
			return resp.NullBulk(), mutated, nil
		}
		return resp.Bulk(items[0]), mutated, nil
	}
	if items == nil {
		return resp.NullArray(), mutated, nil
	}
	return bulkArray(items), mutated, nil
}

func cmdLIndex(e *Engine, args []byte2D) (resp.Value, bool, error) {
	idx, err1 := strconv.Atoi(string(args[1]))
	if err1 != nil {
		return resp.Error("ERR value is not an integer or out of range"), false, nil
	}
	b, err := e.ks.LIndex(string(args[0]), idx)
	if err != nil {
		return resp.Value{}, false, err
	}
	if b == nil {
		return resp.NullBulk(), false, nil
	}
	return resp.Bulk(b), false, nil
}

func cmdLSet(e *Engine, args []byte2D) (resp.Value, bool, error) {
	idx, err1 := strconv.Atoi(string(args[1]))
	if err1 != nil {
		return resp.Error("ERR value is not an integer or out of range"), false, nil
	}
	if err := e.ks.LSet(string(args[0]), idx, args[2]); err != nil {
		return resp.Value{}, false, err
	}
	return resp.SimpleString("OK"), true, nil
}

func cmdLInsert(e *Engine, args []byte2D) (resp.Value, bool, error) {
	var before bool
	switch upperASCII(string(args[1])) {
	case "BEFORE":
		before = true
	case "AFTER":
		before = false
	default:
		return resp.Error("ERR syntax error"), false, nil
	}
	n, err := e.ks.LInsert(string(args[0]), before, args[2], args[3])
	if err != nil {
		return resp.Value{}, false, err
	}
	return resp.Integer(int64(n)), n > 0, nil
}

func cmdSAdd(e *Engine, args []byte2D) (resp.Value, bool, error) {
	n, err := e.ks.SAdd(string(args[0]), args[1:])
	if err != nil {
		return resp.Value{}, false, err
	}
	return resp.Integer(int64(n)), n > 0, nil
}

func cmdSMembers(e *Engine, args []byte2D) (resp.Value, bool, error) {
	items, err := e.ks.SMembers(string(args[0]))
	if err != nil {
		return resp.Value{}, false, err
	}
	return bulkArray(items), false, nil
}

func cmdSIsMember(e *Engine, args []byte2D) (resp.Value, bool, error) {
	ok, err := e.ks.SIsMember(string(args[0]), args[1])
	if err != nil {
		return resp.Value{}, false, err
	}
	if ok {
		return resp.Integer(1), false, nil
	}
	return resp.Integer(0), false, nil
}

func cmdSCard(e *Engine, args []byte2D) (resp.Value, bool, error) {
	n, err := e.ks.SCard(string(args[0]))
	if err != nil {
		return resp.Value{}, false, err
	}
	return resp.Integer(int64(n)), false, nil
}

func keysOf(args []byte2D) []string {
	keys := make([]string, len(args))
	for i, a := range args {
		keys[i] = string(a)
	}
	return keys
}

func cmdSInter(e *Engine, args []byte2D) (resp.Value, bool, error) {
	items, err := e.ks.SInter(keysOf(args))
	if err != nil {
		return resp.Value{}, false, err
	}
	return bulkArray(items), false, nil
}

func cmdSUnion(e *Engine, args []byte2D) (resp.Value, bool, error) {
	items, err := e.ks.SUnion(keysOf(args))
	if err != nil {
		return resp.Value{}, false, err
	}
	return bulkArray(items), false, nil
}

func cmdSDiff(e *Engine, args []byte2D) (resp.Value, bool, error) {
	items, err := e.ks.SDiff(keysOf(args))
	if err != nil {
		return resp.Value{}, false, err
	}
	return bulkArray(items), false, nil
}

func cmdDel(e *Engine, args []byte2D) (resp.Value, bool, error) {
	n := e.ks.Del(keysOf(args))
	return resp.Integer(int64(n)), n > 0, nil
}

func cmdExists(e *Engine, args []byte2D) (resp.Value, bool, error) {
	n := e.ks.Exists(keysOf(args))
	return resp.Integer(int64(n)), false, nil
}

func cmdType(e *Engine, args []byte2D) (resp.Value, bool, error) {
	return resp.SimpleString(e.ks.Type(string(args[0]))), false, nil
}

// cmdRestoreKey applies CLUSTER RESTORE key ttl value: value is a
// snapshot.Record encoded by snapshot.EncodeRecord on the source node
// (see cluster.Manager's migration driver), so a migrated key carries
// exactly the bytes it would have been written to dump.rdb with. The ttl
// argument (absolute unix millis, 0 for none) takes precedence over
// whatever TTL the record itself carries, matching the wire command's own
// ttl parameter.
func cmdRestoreKey(e *Engine, args []byte2D) (resp.Value, bool, error) {
	key := string(args[0])
	ttlMillis, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return resp.Value{}, false, err
	}
	rec, err := snapshot.DecodeRecord(args[2])
	if err != nil {
		return resp.Value{}, false, err
	}
	ent := recordToEntry(rec)
	if ttlMillis > 0 {
		ent.ExpiresAt = time.UnixMilli(ttlMillis)
	} else {
		ent.ExpiresAt = time.Time{}
	}
	e.ks.RestoreEntry(key, ent)
	return resp.SimpleString("OK"), true, nil
}

// byte2D names the [][]byte element type used throughout the command
// functions above, just to keep signatures readable.
type byte2D = []byte
