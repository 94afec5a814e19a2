// Package config loads the transferd configuration: a JSON file for the
// non-secret settings, overlaid with environment variables (optionally read
// from a .env file) for secrets and deployment-specific overrides.
package config
