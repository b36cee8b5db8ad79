// Package config loads, defaults and validates Ganymede's YAML
// configuration, and optionally watches the file for hot reload.
package config
