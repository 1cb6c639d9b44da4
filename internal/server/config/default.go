package config

// Default directive values, applied before the config file and environment
// overrides are layered on top by confloader.Loader.
const (
	DefaultHost              = "127.0.0.1"
	DefaultPort              = 6379
	DefaultClusterPort       = 16379
	DefaultDir               = "./data"
	DefaultDBFileName        = "dump.rdb"
	DefaultAppendFileName    = "appendonly.aof"
	DefaultAppendFsync       = "everysec"
	DefaultNodeTimeoutMillis = 5000
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
)

// DefaultSaveRules mirrors storage.DefaultConfig's thresholds, expressed as
// the raw "<seconds> <writes>" directive text a conf file would carry.
var DefaultSaveRules = []string{"900 1", "300 10", "60 10000"}

// Default returns a NodeConfig with every directive at its documented
// default, suitable as the base layer confloader.Loader.Load starts from
// before applying the file and environment.
func Default() *NodeConfig {
	return &NodeConfig{
		Host:              DefaultHost,
		Port:              DefaultPort,
		ClusterPort:       DefaultClusterPort,
		Dir:               DefaultDir,
		DBFileName:        DefaultDBFileName,
		AppendFileName:    DefaultAppendFileName,
		AppendFsync:       DefaultAppendFsync,
		Save:              append([]string(nil), DefaultSaveRules...),
		NodeTimeoutMillis: DefaultNodeTimeoutMillis,
		MaxMemory:         0,
		LogLevel:          DefaultLogLevel,
		LogFormat:         DefaultLogFormat,
	}
}
