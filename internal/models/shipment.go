package models

import "time"

// Category is a platform fulfillment-event status. The set is fixed by the
// platform API; anything the classifier cannot map stays CategoryNone and
// produces no event.
type Category string

const (
	CategoryNone              Category = "none"
	CategoryConfirmed         Category = "confirmed"
	CategoryInTransit         Category = "in_transit"
	CategoryOutForDelivery    Category = "out_for_delivery"
	CategoryReadyForPickup    Category = "ready_for_pickup"
	CategoryAttemptedDelivery Category = "attempted_delivery"
	CategoryFailure           Category = "failure"
	CategoryDelivered         Category = "delivered"
)

// Lifecycle rank, used by the monotonicity guard. Delivered bypasses rank
// checks entirely (absorbing state).
var categoryRank = map[Category]int{
	CategoryNone:              0,
	CategoryConfirmed:         1,
	CategoryInTransit:         2,
	CategoryOutForDelivery:    3,
	CategoryReadyForPickup:    4,
	CategoryAttemptedDelivery: 5,
	CategoryFailure:           6,
	CategoryDelivered:         7,
}

func (c Category) Rank() int {
	return categoryRank[c]
}

func (c Category) Valid() bool {
	_, ok := categoryRank[c]
	return ok
}

// Shipment is one ledger row per (order, fulfillment) pair. Rows are never
// deleted; once IsDelivered is set the row is no longer selected for checks.
type Shipment struct {
	OrderID       uint64
	FulfillmentID uint64

	TrackingNumber string
	ShippedAt      *time.Time // write-once, preserved across upserts

	LastPlatformStatus Category
	LastCarrierStatus  string
	LastCarrierEventAt *time.Time

	IsDelivered bool

	LastCheckedAt  *time.Time
	NextCheckAt    *time.Time // nil once delivered
	CheckFailCount int32
	LastError      *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FulfillmentEvent mirrors the platform's fulfillment-event resource, as read
// back from or written to the platform API.
type FulfillmentEvent struct {
	ID         uint64
	Status     Category
	Message    string
	HappenedAt *time.Time
}

type ShipmentUpsertInput struct {
	OrderID        uint64
	FulfillmentID  uint64
	TrackingNumber string
	ShippedAt      *time.Time
}
