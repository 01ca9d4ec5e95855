package dispatcher

import "time"

// Config tunes batching and fan-out.
type Config struct {
	// BatchSize flushes a batch once it holds this many events.
	BatchSize int
	// BatchInterval flushes a non-empty batch at least this often.
	BatchInterval time.Duration
	// IngestBuffer is the capacity of the channel between Dispatch and Run.
	IngestBuffer int
	// SubscriberQueue bounds the number of undelivered messages per monitor.
	SubscriberQueue int
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		BatchSize:       100,
		BatchInterval:   100 * time.Millisecond,
		IngestBuffer:    1024,
		SubscriberQueue: 64,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = def.BatchInterval
	}
	if c.IngestBuffer <= 0 {
		c.IngestBuffer = def.IngestBuffer
	}
	if c.SubscriberQueue <= 0 {
		c.SubscriberQueue = def.SubscriberQueue
	}
	return c
}
