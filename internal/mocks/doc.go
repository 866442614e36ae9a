// Package mocks provides test doubles for the pipeline's external
// collaborators: a scripted Streamer standing in for the language model and
// a Fetcher serving canned daily bars.
//
//	streamer := mocks.NewMockStreamerWithText("trend intact, ", "confidence 8/10")
//	fetcher := &mocks.MockFetcher{Bars: map[string][]domain.Bar{
//	    "600519": mocks.TrendingBars(80, 1500, 2),
//	}}
package mocks
