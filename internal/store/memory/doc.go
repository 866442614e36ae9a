// Package memory provides in-process implementations of the store
// interfaces. They back the "memory" storage driver and the unit tests of
// the task manager, pipeline and API.
package memory
