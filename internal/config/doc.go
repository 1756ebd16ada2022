// Package config loads the plugin host configuration.
//
// Settings come from three layers, later layers overriding earlier ones:
//
//  1. Defaults
//  2. A TOML or YAML file, chosen by extension
//  3. PLUGHOST_* environment variables
//
// A missing file is not an error. Load validates the merged result.
//
// Example file (plughost.toml):
//
//	plugins_dir = "/var/lib/plughost/plugins"
//	pane_timeout = "10s"
//	log_level = "debug"
//	workers = 8
//	watch = true
//	http_addr = ":9470"
package config
