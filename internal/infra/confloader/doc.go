// Package confloader loads layered configuration on top of koanf.
//
// Layers, later overriding earlier:
//
//  1. Default values (the zero/Default() value of the target struct)
//  2. A configuration file, parsed by a pluggable koanf.Parser — see
//     LineParser for the node conf-file's flat "key value" format
//  3. Environment variables under the TOKMESH_ prefix
//
// Watcher additionally supports reloading the file layer on change via
// fsnotify, for directives the node can apply without a restart.
//
// @design DS-0502
package confloader
