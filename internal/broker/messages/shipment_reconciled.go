package messages

import "time"

// ShipmentReconciled is the audit record published after every completed
// reconciliation cycle: enough to explain why an event was or was not posted.
type ShipmentReconciled struct {
	OrderID        uint64 `json:"order_id"`
	FulfillmentID  uint64 `json:"fulfillment_id"`
	TrackingNumber string `json:"tracking_number"`

	CheckedAt time.Time `json:"checked_at"`

	CarrierStatus  string     `json:"carrier_status,omitempty"`
	CarrierEventAt *time.Time `json:"carrier_event_at,omitempty"`

	Action string `json:"action"` // "created" | "skipped" | "error"
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`

	NextCheckAt *time.Time `json:"next_check_at,omitempty"`

	Error *string `json:"error,omitempty"`
}
