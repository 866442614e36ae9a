// Package events implements the progress broadcaster.
//
// Every published event is appended to the progress log before it is handed
// to a single goroutine that owns the table of live subscriptions. That
// goroutine fans each message out to the subscriptions of the event's task
// without blocking, replays recent history to new subscribers, emits
// heartbeats on idle subscriptions and sweeps the ones whose consumer has
// stopped reading. Delivery to a subscriber is best effort; the log is the
// durable record.
package events
