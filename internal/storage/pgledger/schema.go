package pgledger

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shipments (
  order_id BIGINT NOT NULL,
  fulfillment_id BIGINT NOT NULL,
  tracking_number TEXT NOT NULL,
  shipped_at TIMESTAMPTZ NULL,
  last_platform_status TEXT NOT NULL DEFAULT 'none',
  last_carrier_status TEXT NOT NULL DEFAULT '',
  last_carrier_event_at TIMESTAMPTZ NULL,
  is_delivered BOOLEAN NOT NULL DEFAULT FALSE,
  last_checked_at TIMESTAMPTZ NULL,
  next_check_at TIMESTAMPTZ NULL,
  check_fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (order_id, fulfillment_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_next_check_at ON shipments(next_check_at) WHERE NOT is_delivered`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_last_checked_at ON shipments(last_checked_at)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
