package stream

import "encoding/json"

// Control frame types exchanged with the backend.
const (
	msgTypeSubscribe         = "subscribe"
	msgTypeUnsubscribe       = "unsubscribe"
	msgTypeHeartbeat         = "heartbeat"
	msgTypeHeartbeatResponse = "heartbeat_response"
)

// controlFrame is an outbound control message. Subscribe and unsubscribe are
// best effort: the backend sends no acknowledgement and local bookkeeping
// never waits on delivery.
type controlFrame struct {
	Type           string   `json:"type"`
	Channel        string   `json:"channel,omitempty"`
	DataType       DataType `json:"dataType,omitempty"`
	SubscriptionID string   `json:"subscriptionId,omitempty"`
	Timestamp      int64    `json:"timestamp,omitempty"`

	// Scheduling hints, milliseconds. Zero values are omitted.
	AggregationWindowMs int64 `json:"aggregationWindowMs,omitempty"`
	UpdateFrequencyMs   int64 `json:"updateFrequencyMs,omitempty"`
}

// envelope is an inbound message. Data updates carry a channel and a payload;
// control messages carry a type instead. Data stays raw until the message is
// routed so unroutable payloads are never decoded.
type envelope struct {
	Type      string          `json:"type,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp any             `json:"timestamp,omitempty"`
}
