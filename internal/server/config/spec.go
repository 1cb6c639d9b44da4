// Package config defines and loads the clustered node's configuration.
package config

// NodeConfig is one node's parsed configuration file (§6): a flat set of
// `key value` directives, matched by the format the file itself is
// written in rather than the nested sections a YAML-backed service config
// would use.
type NodeConfig struct {
	// Host is this node's advertised address, used to build the
	// host:port pairs handed out in CLUSTER NODES/SLOTS and MOVED/ASK
	// replies. Not one of §6's listed directives (the spec is silent on
	// how a node learns its own address); kept as a "bind" directive so
	// a multi-host cluster can be configured at all, defaulting to
	// loopback for single-host development clusters.
	Host string `koanf:"bind"`

	Port        int    `koanf:"port"`
	ClusterPort int    `koanf:"cluster-port"`
	Dir         string `koanf:"dir"`

	DBFileName     string `koanf:"dbfilename"`
	AppendFileName string `koanf:"appendfilename"`
	AppendFsync    string `koanf:"appendfsync"` // always | everysec | no

	// Save holds the raw "<seconds> <writes>" directive text; ParseSaveRules
	// turns it into storage.SaveThreshold values. Kept as raw strings here
	// because koanf's struct-tag mapping has no natural shape for "N
	// repeatable sub-fields" in a flat line format.
	Save []string `koanf:"save"`

	// NodeTimeoutMillis is §4.6's gossip failure-detection timeout, kept as
	// a plain integer (not time.Duration) since the conf file's node-timeout
	// directive is a bare millisecond count, not a Go duration string.
	NodeTimeoutMillis int `koanf:"node-timeout"`

	MaxMemory int64 `koanf:"maxmemory"` // bytes, 0 = unlimited

	// MetricsAddr serves the Prometheus /metrics endpoint (§10's ambient
	// metrics stack). Not a §6 directive either; defaults to disabled (empty)
	// so a node that doesn't set it never opens the extra listener.
	MetricsAddr string `koanf:"metrics-addr"`

	LogLevel  string `koanf:"log-level"`
	LogFormat string `koanf:"log-format"`
}
