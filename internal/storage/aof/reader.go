package aof

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/yndnr/tokmesh-go/internal/resp"
)

// ErrCorruptHeader is returned when a file does not begin with the literal
// AOF header; per the spec this is a hard error the node refuses to start
// past, unlike a truncated trailing record which is merely discarded.
var ErrCorruptHeader = errors.New("aof: missing or corrupt header")

// ReplayFunc is invoked once per recovered command, in file order.
type ReplayFunc func(args [][]byte) error

// Replay opens path, validates its header, and invokes fn for every
// complete command record. A final incomplete record (a torn write from a
// crash mid-append) is silently discarded rather than treated as corrupt;
// the caller is expected to log the discard count it receives back.
func Replay(path string, fn ReplayFunc) (discarded int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	header := make([]byte, len(Header))
	n, err := io.ReadFull(f, header)
	if err != nil {
		if n == 0 && err == io.EOF {
			return 0, nil // empty file, nothing to replay
		}
		return 0, ErrCorruptHeader
	}
	if string(header) != Header {
		return 0, ErrCorruptHeader
	}

	r := bufio.NewReader(f)
	for {
		if _, perr := r.Peek(1); perr == io.EOF {
			return discarded, nil // clean end of file
		}
		args, rerr := resp.ReadCommand(r)
		if rerr != nil {
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
				discarded++ // bytes remained but did not form a full record
				return discarded, nil
			}
			// Any other malformed trailing bytes are treated the same way:
			// discard the tail and proceed, rather than refusing to start.
			discarded++
			return discarded, nil
		}
		if len(args) == 0 {
			continue
		}
		if err := fn(args); err != nil {
			return discarded, fmt.Errorf("aof: replay: %w", err)
		}
	}
}
