// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the application's core logic. Postgres, Redis and in-memory
// implementations live in internal/platform and internal/store/memory.
package store
