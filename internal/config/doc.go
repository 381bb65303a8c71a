// Package config loads, normalizes, and validates sceneflow's TOML
// configuration. Lookup order is an explicit --config path, then
// ~/.config/sceneflow/config.toml, then ./sceneflow.toml; missing files fall
// back to repository defaults so the daemon can start with zero configuration.
package config
