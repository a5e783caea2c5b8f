package cluster

import "time"

// SubscriptionConfig controls the subscription refresh loop
type SubscriptionConfig struct {
	// Interval between registry re-reads (default: 60s)
	Interval time.Duration

	// Strict leaves a UUID out of the subscribed set when the transport
	// refused it, so the next refresh retries. The default records it
	// regardless.
	Strict bool
}

// DefaultSubscriptionConfig returns the production defaults
func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		Interval: 60 * time.Second,
	}
}

// Validate checks if configuration is valid
func (c *SubscriptionConfig) Validate() error {
	if c.Interval <= 0 {
		return ErrInvalidInterval
	}
	return nil
}
