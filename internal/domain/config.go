package domain

// QueueConfig is the singleton, mutable pacing configuration. Mutations take
// effect for jobs not yet claimed; in-flight jobs keep the values they were
// claimed under.
type QueueConfig struct {
	IsPaused           bool `json:"isPaused"`
	RateLimitPerMinute int  `json:"rateLimitPerMinute"`
	MaxRetryAttempts   int  `json:"maxRetryAttempts"`
	WorkerPoolSize     int  `json:"workerPoolSize"`
}

// QueueConfigUpdate carries a partial config mutation. Nil fields are left
// unchanged.
type QueueConfigUpdate struct {
	IsPaused           *bool `json:"isPaused,omitempty"`
	RateLimitPerMinute *int  `json:"rateLimitPerMinute,omitempty"`
	MaxRetryAttempts   *int  `json:"maxRetryAttempts,omitempty"`
	WorkerPoolSize     *int  `json:"workerPoolSize,omitempty"`
}

// DefaultQueueConfig returns the config used when nothing has been persisted yet.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		IsPaused:           false,
		RateLimitPerMinute: 60,
		MaxRetryAttempts:   3,
		WorkerPoolSize:     3,
	}
}
