// Package config defines the settings used by the flag-arbiter binaries and
// provides helpers to load, validate and save them in YAML format.
//
// Besides connection settings, the file carries the flag definitions (tier,
// priority, linked lower flags, display actions) seeded into the flag store.
package config
