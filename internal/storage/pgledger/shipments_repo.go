package pgledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"shipsync/internal/models"
)

const shipmentColumns = `
  order_id, fulfillment_id, tracking_number, shipped_at,
  last_platform_status, last_carrier_status, last_carrier_event_at,
  is_delivered,
  last_checked_at, next_check_at, check_fail_count, last_error,
  created_at, updated_at`

// UpsertShipments seeds rows discovered on the platform. Re-discovery updates
// only the tracking number; shipped_at is write-once and the scheduling
// cursor of an existing row is left alone.
func (s *Storage) UpsertShipments(ctx context.Context, items []models.ShipmentUpsertInput) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		_, err := tx.Exec(ctx, `
INSERT INTO shipments (
  order_id, fulfillment_id, tracking_number, shipped_at,
  last_platform_status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (order_id, fulfillment_id)
DO UPDATE SET
  tracking_number = EXCLUDED.tracking_number,
  shipped_at = COALESCE(shipments.shipped_at, EXCLUDED.shipped_at),
  updated_at = EXCLUDED.updated_at
`, it.OrderID, it.FulfillmentID, it.TrackingNumber, it.ShippedAt, string(models.CategoryNone), now)
		if err != nil {
			return errors.Wrap(err, "upsert shipment")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// SelectPending returns undelivered shipments due for a check, least recently
// checked first so an erroring shipment cannot starve the rest of the batch.
func (s *Storage) SelectPending(ctx context.Context, now time.Time, limit int) ([]*models.Shipment, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE NOT is_delivered
  AND (next_check_at IS NULL OR next_check_at <= $1)
ORDER BY last_checked_at ASC NULLS FIRST
LIMIT $2
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select pending shipments")
	}
	defer rows.Close()

	return scanShipments(rows)
}

func (s *Storage) GetShipment(ctx context.Context, orderID, fulfillmentID uint64) (*models.Shipment, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE order_id = $1 AND fulfillment_id = $2
`, orderID, fulfillmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	defer rows.Close()

	out, err := scanShipments(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

type CheckRecord struct {
	OrderID       uint64
	FulfillmentID uint64

	CheckedAt time.Time

	CarrierStatus  string
	CarrierEventAt *time.Time
	PlatformStatus models.Category

	NextCheckAt *time.Time

	Error *string
}

// RecordCheck writes the outcome of one reconciliation cycle. A failed cycle
// bumps check_fail_count and records the error without touching the observed
// statuses; a successful one resets both. Never flips is_delivered.
func (s *Storage) RecordCheck(ctx context.Context, rec CheckRecord) error {
	if rec.Error != nil && *rec.Error != "" {
		_, err := s.db.Exec(ctx, `
UPDATE shipments
SET
  last_checked_at = $3,
  check_fail_count = check_fail_count + 1,
  last_error = $4,
  next_check_at = $5,
  updated_at = now()
WHERE order_id = $1 AND fulfillment_id = $2
`, rec.OrderID, rec.FulfillmentID, rec.CheckedAt.UTC(), *rec.Error, rec.NextCheckAt)
		return errors.Wrap(err, "record check (error)")
	}

	_, err := s.db.Exec(ctx, `
UPDATE shipments
SET
  last_platform_status = $3,
  last_carrier_status = $4,
  last_carrier_event_at = $5,
  last_checked_at = $6,
  check_fail_count = 0,
  last_error = NULL,
  next_check_at = $7,
  updated_at = now()
WHERE order_id = $1 AND fulfillment_id = $2
`, rec.OrderID, rec.FulfillmentID, string(rec.PlatformStatus), rec.CarrierStatus, rec.CarrierEventAt, rec.CheckedAt.UTC(), rec.NextCheckAt)
	return errors.Wrap(err, "record check (ok)")
}

// MarkDelivered puts the shipment in its terminal state: no further checks,
// no further status writes. Idempotent beyond the timestamp refresh.
func (s *Storage) MarkDelivered(ctx context.Context, orderID, fulfillmentID uint64, deliveredAt *time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments
SET
  is_delivered = TRUE,
  last_platform_status = $3,
  last_carrier_event_at = COALESCE($4, last_carrier_event_at),
  next_check_at = NULL,
  last_error = NULL,
  updated_at = now()
WHERE order_id = $1 AND fulfillment_id = $2
`, orderID, fulfillmentID, string(models.CategoryDelivered), deliveredAt)
	return errors.Wrap(err, "mark delivered")
}

func scanShipments(rows pgx.Rows) ([]*models.Shipment, error) {
	var out []*models.Shipment
	for rows.Next() {
		var sh models.Shipment
		var status string
		if err := rows.Scan(
			&sh.OrderID, &sh.FulfillmentID, &sh.TrackingNumber, &sh.ShippedAt,
			&status, &sh.LastCarrierStatus, &sh.LastCarrierEventAt,
			&sh.IsDelivered,
			&sh.LastCheckedAt, &sh.NextCheckAt, &sh.CheckFailCount, &sh.LastError,
			&sh.CreatedAt, &sh.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		sh.LastPlatformStatus = models.Category(status)
		out = append(out, &sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
