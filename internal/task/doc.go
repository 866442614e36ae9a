// Package task owns the lifecycle of recommendation tasks. The Manager is the
// only component that starts, cancels or retries a pipeline run, and it caps
// the number of runs executing at once. It can also recover tasks that a
// previous process left running.
package task
