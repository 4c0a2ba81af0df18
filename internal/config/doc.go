// Package config loads, normalizes, and validates gridtag's TOML
// configuration. The resolution order is: an explicit --config path, then
// ~/.config/gridtag/config.toml, then ./gridtag.toml; missing files fall
// back to repository defaults.
package config
