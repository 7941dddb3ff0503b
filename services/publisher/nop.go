package publisher

// NopPublisher discards every message. It stands in for the redis
// publisher when no result transport is reachable, keeping the worker
// loop alive for callback-only jobs.
type NopPublisher struct{}

var _ Publisher = (*NopPublisher)(nil)

// NewNopPublisher creates a publisher that drops everything.
func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

func (*NopPublisher) Publish(string, []byte) error { return nil }
func (*NopPublisher) TrimStreams() error           { return nil }
func (*NopPublisher) Close() error                 { return nil }
