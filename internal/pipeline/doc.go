// Package pipeline runs one recommendation task through its three phases:
// screening picks the candidate symbols, analysis scores each candidate in
// small concurrent batches with a technical model and a streamed text
// generation, and ranking orders, selects and persists the results.
//
// The pipeline reports counters through a Tracker owned by the task manager
// and emits every progress event through a Publisher. It never changes a
// task's status itself.
package pipeline
