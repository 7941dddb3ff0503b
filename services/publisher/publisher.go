package publisher

// Publisher represents a service for publishing crawl results
type Publisher interface {
	// Publish publishes a result message under the given payload key
	Publish(key string, message []byte) error

	// TrimStreams trims all streams to the configured maximum length
	TrimStreams() error

	// Close closes the publisher connection
	Close() error
}
