// Package domain contains the core entities of the recommendation service:
// tasks and their lifecycle state machine, per-item results, progress events,
// and the market vocabulary (instruments, boards, daily bars) the pipeline
// works with. It is independent of storage and delivery.
package domain
