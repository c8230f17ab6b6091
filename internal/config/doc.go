// Package config loads, normalizes, and validates medialib configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the MEDIALIB_ORIGIN environment
// override. Directories left empty are derived from paths.root so a library
// can be relocated by changing a single value.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
