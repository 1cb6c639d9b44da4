// Package config defines and validates the clustered node's configuration.
//
// This package defines the node configuration structure and validation:
//
//   - spec.go: NodeConfig struct definition, matching §6's conf-file directives
//   - default.go: Default directive values
//   - saverules.go: Parses repeatable `save <seconds> <writes>` directives
//   - verify.go: Validates a loaded NodeConfig before the node starts
//
// Configuration is loaded via internal/infra/confloader using
// confloader.NewLineParser instead of YAML, since §6's conf-file format is
// flat `key value` lines rather than a nested document format.
//
// @design DS-0502
package config
