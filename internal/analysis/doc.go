// Package analysis computes the technical indicators and the technical score
// for a daily bar series. All functions are pure.
package analysis
