// Package config loads, normalizes, and validates autorip configuration data.
//
// It supplies repository defaults for the reference autoloader (two input
// bins, two output bins, four drives), expands user paths, reads TOML files,
// and honours environment fallbacks such as AUTORIP_SERIAL_PORT. A .env file
// next to the config is read first so fallbacks can live beside it.
//
// Always obtain settings through this package so downstream code receives
// sorted bin priorities, resolved drive bays, and clear validation errors.
package config
