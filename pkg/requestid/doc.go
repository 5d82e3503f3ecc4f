// Package requestid provides request id propagation: HTTP middleware,
// context accessors, and a logger extractor so every log line on a request
// path carries the same id.
package requestid
