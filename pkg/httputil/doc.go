// Package httputil provides shared helpers for JSON responses and request
// parsing used by the HTTP handlers.
package httputil
