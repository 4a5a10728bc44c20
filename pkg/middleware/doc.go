// Package middleware provides the HTTP middleware chain for the audit
// trail service: host-identity extraction, capability gates, and request ID
// propagation. Authentication and role management belong to the host
// application; this package only consumes its decisions.
package middleware
