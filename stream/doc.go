// Package stream implements the real-time data distribution client used by
// the GraphMemory dashboard.
//
// A Client owns one persistent WebSocket connection and multiplexes any number
// of logical subscriptions over it. Inbound messages are routed by channel
// name to the matching subscriptions, run through each subscription's
// transformation pipeline, appended to the channel's bounded history buffer,
// and delivered to the subscriber's callback.
//
// The client recovers from unexpected connection loss with a bounded number
// of reconnection attempts separated by a constant delay. Heartbeat probes
// detect silent failures while connected. Consumers observe connection
// health through the ConnectionState observable; no errors are thrown from
// the receive path.
//
// Each Client is an independent instance: there is no package-level
// connection state, so tests and multi-backend consumers can run clients
// side by side.
package stream
