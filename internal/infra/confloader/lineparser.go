package confloader

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// LineParser implements koanf.Parser for a flat "key value" configuration
// format: one directive per line, "#" starts a comment, blank lines are
// skipped, and a key repeated across multiple lines (e.g. several `save`
// directives) accumulates into a slice rather than overwriting. This is
// the node configuration file format described by §6, used in place of
// YAML for the clustered server's conf file.
type LineParser struct{}

// NewLineParser returns a LineParser.
func NewLineParser() LineParser { return LineParser{} }

// Unmarshal parses conf-file bytes into a flat key -> string|[]string map.
func (LineParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	sc := bufio.NewScanner(bytes.NewReader(b))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("confloader: line %d: expected \"key value\", got %q", lineNo, line)
		}
		key := strings.ToLower(fields[0])
		value := strings.Join(fields[1:], " ")

		switch existing := out[key].(type) {
		case nil:
			out[key] = value
		case string:
			out[key] = []string{existing, value}
		case []string:
			out[key] = append(existing, value)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("confloader: scan: %w", err)
	}
	return out, nil
}

// Marshal renders a flat map back to the line format: one "key value" line
// per scalar, or one line per element for slice values.
func (LineParser) Marshal(m map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for key, v := range m {
		switch val := v.(type) {
		case []string:
			for _, item := range val {
				fmt.Fprintf(&buf, "%s %s\n", key, item)
			}
		default:
			fmt.Fprintf(&buf, "%s %v\n", key, val)
		}
	}
	return buf.Bytes(), nil
}
