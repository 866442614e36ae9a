// Package redisstore holds the Redis backed pieces of the service: an
// alternative progress log and the daily bar cache used by the market data
// client.
package redisstore
