package model

// Topic is a Bitcoin Core ZMQ notification kind.
type Topic string

const (
	TopicRawBlock  Topic = "rawblock"
	TopicRawTx     Topic = "rawtx"
	TopicHashBlock Topic = "hashblock"
	TopicHashTx    Topic = "hashtx"
)

// ZmqType returns the notification type name as reported by the
// getzmqnotifications RPC, e.g. "pubrawblock" for the rawblock topic.
func (t Topic) ZmqType() string {
	return "pub" + string(t)
}

func (t Topic) String() string {
	return string(t)
}
