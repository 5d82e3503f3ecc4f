// Package httpserver provides a thin wrapper around http.Server with
// env-based configuration, functional options, and graceful shutdown tied
// to context cancellation.
package httpserver
