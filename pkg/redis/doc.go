// Package redis wraps go-redis client construction with URL-based
// configuration, retrying connect, and a healthcheck helper.
package redis
