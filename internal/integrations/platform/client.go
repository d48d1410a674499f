package platform

import (
	"context"
	"time"

	"shipsync/internal/models"
)

// Fulfillment is one shipped order/fulfillment pair eligible for tracking.
type Fulfillment struct {
	OrderID        uint64
	FulfillmentID  uint64
	TrackingNumber string
	ShippedAt      *time.Time
}

type CreateEventInput struct {
	Status  models.Category
	Message string
	// HappenedAt carries the carrier's event time, not the emission time, so
	// a delayed run still records history accurately.
	HappenedAt *time.Time
}

type Client interface {
	// ListShippedFulfillments pages through orders in a shipped state that
	// carry a tracking number, up to the client's page bound.
	ListShippedFulfillments(ctx context.Context) ([]Fulfillment, error)

	ListFulfillmentEvents(ctx context.Context, orderID, fulfillmentID uint64) ([]models.FulfillmentEvent, error)

	CreateFulfillmentEvent(ctx context.Context, orderID, fulfillmentID uint64, in CreateEventInput) error
}
