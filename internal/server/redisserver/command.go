package redisserver

import (
	"github.com/yndnr/tokmesh-go/internal/resp"
)

// singleKeyCommands lists the String/List/Set verbs whose first argument is
// their only key, needed to run the cluster's CROSSSLOT/MOVED/ASK routing
// checks before the command reaches storage.Engine.Execute.
var singleKeyCommands = map[string]bool{
	"SET": true, "GET": true, "APPEND": true, "STRLEN": true,
	"GETRANGE": true, "SETRANGE": true, "LPUSH": true, "LRANGE": true,
	"LLEN": true, "LPOP": true, "LINDEX": true, "LSET": true, "LINSERT": true,
	"SADD": true, "SMEMBERS": true, "SISMEMBER": true, "SCARD": true,
	"TYPE": true,
}

var allArgsAreKeysCommands = map[string]bool{
	"DEL": true, "EXISTS": true, "SINTER": true, "SUNION": true, "SDIFF": true,
}

func keysTouchedBy(name string, args [][]byte) [][]byte {
	switch {
	case singleKeyCommands[name]:
		if len(args) == 0 {
			return nil
		}
		return args[:1]
	case allArgsAreKeysCommands[name]:
		return args
	default:
		return nil
	}
}

// dispatch executes one client command. It reports whether the connection
// should close afterward (QUIT) and whether the reply has already been
// written to c (SUBSCRIBE/UNSUBSCRIBE write one reply per channel as they
// go, rather than a single reply at the end).
func (s *Server) dispatch(c *conn, args [][]byte) (resp.Value, bool, bool) {
	name := upperASCII(string(args[0]))

	// §5's restricted mode: once subscribed, only (P)SUBSCRIBE,
	// (P)UNSUBSCRIBE, PING and QUIT are accepted.
	if c.subscribedCount() > 0 {
		switch name {
		case "SUBSCRIBE", "UNSUBSCRIBE", "PING", "QUIT":
		default:
			return resp.Errorf("ERR only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT allowed in this context"), false, false
		}
	}

	switch name {
	case "PING":
		return s.cmdPing(args[1:]), false, false
	case "QUIT":
		return resp.SimpleString("OK"), true, false
	case "SUBSCRIBE":
		s.cmdSubscribe(c, args[1:])
		return resp.Value{}, false, true
	case "UNSUBSCRIBE":
		s.cmdUnsubscribe(c, args[1:])
		return resp.Value{}, false, true
	case "PUBLISH":
		return s.cmdPublish(args[1:]), false, false
	case "CLUSTER":
		if s.cluster == nil {
			return resp.Errorf("ERR this node is not cluster-enabled"), false, false
		}
		return s.cluster.HandleClusterCommand(args[1:]), false, false
	}

	keys := keysTouchedBy(name, args[1:])
	if s.cluster != nil && len(keys) > 0 {
		decision := s.cluster.RouteKeys(keys)
		switch {
		case decision.CrossSlot:
			return resp.Errorf("CROSSSLOT Keys in request don't hash to the same slot"), false, false
		case decision.MovedAddr != "":
			return resp.Errorf("MOVED %s", decision.MovedAddr), false, false
		case decision.AskAddr != "":
			return resp.Errorf("ASK %s", decision.AskAddr), false, false
		case !decision.Local:
			return resp.Errorf("CLUSTERDOWN the slot is not served"), false, false
		}
	}

	v, err := s.engine.Execute(args)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncProtocolErrors()
		}
		return resp.Errorf("ERR %s", err.Error()), false, false
	}
	return v, false, false
}

func (s *Server) cmdPing(args [][]byte) resp.Value {
	if len(args) == 0 {
		return resp.SimpleString("PONG")
	}
	return resp.Bulk(args[0])
}

func (s *Server) cmdSubscribe(c *conn, channels [][]byte) {
	if len(channels) == 0 {
		s.writeReply(c, s.cfg.WriteTimeout, resp.Errorf("ERR wrong number of arguments for 'subscribe' command"))
		return
	}
	for _, ch := range channels {
		s.broker.Subscribe(string(ch), c)
		count := c.addSubscription(string(ch))
		s.writeReply(c, s.cfg.WriteTimeout, resp.Array([]resp.Value{
			resp.BulkStr("subscribe"),
			resp.Bulk(ch),
			resp.Integer(int64(count)),
		}))
	}
}

func (s *Server) cmdUnsubscribe(c *conn, channels [][]byte) {
	if len(channels) == 0 {
		channels = toByteSlices(c.channels())
	}
	if len(channels) == 0 {
		s.writeReply(c, s.cfg.WriteTimeout, resp.Array([]resp.Value{resp.BulkStr("unsubscribe"), resp.NullBulk(), resp.Integer(0)}))
		return
	}
	for _, ch := range channels {
		s.broker.Unsubscribe(string(ch), c)
		count := c.removeSubscription(string(ch))
		s.writeReply(c, s.cfg.WriteTimeout, resp.Array([]resp.Value{
			resp.BulkStr("unsubscribe"),
			resp.Bulk(ch),
			resp.Integer(int64(count)),
		}))
	}
}

func toByteSlices(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func (s *Server) cmdPublish(args [][]byte) resp.Value {
	if len(args) != 2 {
		return resp.Errorf("ERR wrong number of arguments for 'publish' command")
	}
	n := s.broker.Publish(string(args[0]), args[1])
	return resp.Integer(int64(n))
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
