// Package history persists orchestration instances and their append-only step
// logs, so an instance can be replayed after the process restarts.
package history
