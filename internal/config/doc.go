// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional config file. It provides typed
// settings for every component while keeping configuration details out of
// business logic.
package config
