// Package config loads, normalizes, and validates rulerunner configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// RULERUNNER_STORE. The Config type centralizes every knob the supervisor,
// the workers, and the CLI need so a worker process started with nothing but
// a store location still resolves the same processor and tuning values as its
// parent.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, canonical log formats, and clear validation errors.
package config
