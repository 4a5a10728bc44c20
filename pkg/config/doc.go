// Package config loads, validates and watches the audit trail service
// configuration. Values are layered: built-in defaults, then an optional
// YAML file, then AUDITTRAIL_* environment variables.
package config
