package model

// RawNotification is one demultiplexed ZMQ message. Sequence numbers are
// monotonic per topic per connection, not across topics.
type RawNotification struct {
	Topic    Topic
	Sequence uint64
	Payload  []byte
}

// NotificationEndpoint is one entry of the getzmqnotifications result.
type NotificationEndpoint struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	HWM     int64  `json:"hwm"`
}
