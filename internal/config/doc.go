// Package config loads and validates the player configuration from YAML.
package config
