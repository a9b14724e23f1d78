// Package config provides configuration structures and utilities for kanpora.
// Values come from defaults, the kanpora.yaml file, KANPORA_* environment
// variables (optionally loaded from a .env file) and CLI flags, in that order.
package config
