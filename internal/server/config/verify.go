package config

import (
	"fmt"

	"github.com/yndnr/tokmesh-go/internal/storage/aof"
)

// Verify validates a loaded NodeConfig, surfacing a configuration error the
// caller should treat as exit code 1 (§6's exit code table).
func Verify(cfg *NodeConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", cfg.Port)
	}
	if cfg.ClusterPort <= 0 || cfg.ClusterPort > 65535 {
		return fmt.Errorf("config: cluster-port %d out of range", cfg.ClusterPort)
	}
	if cfg.Port == cfg.ClusterPort {
		return fmt.Errorf("config: port and cluster-port must differ")
	}
	if cfg.Dir == "" {
		return fmt.Errorf("config: dir is required")
	}
	if _, err := aof.ParseSyncMode(cfg.AppendFsync); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseSaveRules(cfg.Save); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.NodeTimeoutMillis <= 0 {
		return fmt.Errorf("config: node-timeout must be positive")
	}
	if cfg.MaxMemory < 0 {
		return fmt.Errorf("config: maxmemory must not be negative")
	}
	return nil
}
