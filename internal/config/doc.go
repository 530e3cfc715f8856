// Package config defines the settings of the door-monitor binaries and
// provides helpers to load, validate and save them in YAML or TOML format.
//
// Credentials and the timer delay may also come from the environment, which
// takes precedence over the file.
package config
