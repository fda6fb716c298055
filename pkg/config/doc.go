// Package config loads the tally server configuration.
//
// Settings come from three layers, later layers winning:
//
//  1. Built-in defaults (Default)
//  2. A YAML file (Load)
//  3. Environment variables, optionally read from .env files (ApplyEnv)
//
// Command-line flags are applied by the command on top of the result.
//
// Example file:
//
//	listen: ":7411"
//	max_input: 10
//	legacy_remap: {4: 1, 5: 2, 3: 3}
//	switcher:
//	  address: atem.local
//	discovery:
//	  enabled: true
//	log:
//	  level: debug
//	  protocol_file: /var/log/tally.tlog
package config
