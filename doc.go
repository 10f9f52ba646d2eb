// Package graphmemorystream provides the client-side real-time data
// distribution layer for GraphMemory dashboards.
//
// # Architecture
//
// One WebSocket connection, many logical subscriptions. The stream package
// owns the connection lifecycle (connect, heartbeat, bounded reconnection),
// routes inbound updates by channel, runs each subscription's declarative
// transformation pipeline, retains a bounded per-channel history, and
// delivers results to subscriber callbacks:
//
//	client, _ := stream.NewClient(stream.WithLogger(logger))
//	client.Connect(ctx, stream.DefaultConnectionConfig("ws://host/stream"))
//	id, _ := client.Subscribe(stream.SubscriptionConfig{
//		Channel: "memory_updates",
//		Transformations: transform.Pipeline{
//			transform.Filter{Field: "status", Value: "active"},
//		},
//	}, func(data any) { render(data) })
//
// Supporting packages:
//   - transform: declarative payload pipeline (filter, aggregate, sort,
//     group, custom)
//   - pkg/buffer: generic bounded ring buffer backing channel history
//   - pkg/retry: bounded retry with constant or exponential backoff
//   - pkg/timestamp: canonical Unix-millisecond timestamp handling
//   - metric: per-instance Prometheus registry with owned lifecycle
//   - errors: classified error wrapping (transient, invalid, fatal)
//
// The cmd/streamwatch binary subscribes to configured channels, prints
// transformed updates, and exposes client metrics for scraping.
package graphmemorystream
