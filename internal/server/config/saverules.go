package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yndnr/tokmesh-go/internal/storage"
)

// ParseSaveRules turns the raw "<seconds> <writes>" directive lines
// NodeConfig.Save carries into storage.SaveThreshold values (§4.4's
// snapshot trigger policy: any one threshold satisfied triggers a
// snapshot).
func ParseSaveRules(rules []string) ([]storage.SaveThreshold, error) {
	out := make([]storage.SaveThreshold, 0, len(rules))
	for _, rule := range rules {
		fields := strings.Fields(rule)
		if len(fields) != 2 {
			return nil, fmt.Errorf("save %q: expected \"<seconds> <writes>\"", rule)
		}
		seconds, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("save %q: invalid seconds: %w", rule, err)
		}
		writes, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("save %q: invalid writes: %w", rule, err)
		}
		out = append(out, storage.SaveThreshold{Seconds: seconds, Writes: writes})
	}
	return out, nil
}
