package carrier

import (
	"context"
	"time"
)

// Observation is the latest entry of a tracking number's event history.
type Observation struct {
	Text       string     `json:"text"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

type Client interface {
	// Resolve fetches the event history and returns the chronologically last
	// event. (nil, nil) means the carrier has no events for this tracking
	// number yet; the cycle is skipped without error.
	Resolve(ctx context.Context, trackingNumber string) (*Observation, error)
}
