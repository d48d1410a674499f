// Package fake is a deterministic stand-in for the carrier feed, used for
// local runs against a platform sandbox.
package fake

import (
	"context"
	"hash/fnv"
	"time"

	"shipsync/internal/integrations/carrier"
)

var stages = []string{
	"Pendiente de recepción en CTT Express",
	"En tránsito",
	"En reparto",
	"Entregado",
}

type FakeClient struct{}

func New() *FakeClient { return &FakeClient{} }

// Resolve derives a stable stage from the tracking number so repeated runs
// see a consistent observation. One in five tracking numbers reports no
// events yet.
func (f *FakeClient) Resolve(ctx context.Context, trackingNumber string) (*carrier.Observation, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(trackingNumber))
	v := h.Sum32()

	if v%5 == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	return &carrier.Observation{
		Text:       stages[int(v)%len(stages)],
		OccurredAt: &now,
	}, nil
}
