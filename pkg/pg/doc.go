// Package pg manages the PostgreSQL connection pool lifecycle: retrying
// connect, embedded goose migrations, healthchecks, and error
// classification helpers shared by the storage layer.
package pg
