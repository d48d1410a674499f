// Package emitter decides whether a carrier observation warrants a new
// platform fulfillment event and performs the write. All idempotency and
// monotonicity rules live here.
package emitter

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"shipsync/internal/classify"
	"shipsync/internal/integrations/carrier"
	"shipsync/internal/integrations/platform"
	"shipsync/internal/models"
	"shipsync/internal/normalize"
)

const messagePrefix = "CTT: "

// Skip reasons, recorded on the audit trail.
const (
	ReasonAlreadyDelivered = "already_delivered"
	ReasonUnclassifiable   = "unclassifiable_status"
	ReasonDuplicateStatus  = "duplicate_status"
	ReasonStatusRegression = "status_regression"
)

type Action struct {
	Create bool
	Reason string // set when Create is false

	Status     models.Category
	Message    string
	HappenedAt *time.Time
}

// Decide applies the guard rules in order:
//  1. delivered is absorbing: an already-delivered shipment or an existing
//     delivered event ends processing for good;
//  2. unclassifiable text creates nothing;
//  3. a category that was ever posted is not posted again, unless the carrier
//     reports the same stage with a strictly newer event time (a legitimate
//     re-arrival across days);
//  4. a category ranked below the shipment's last status is a regression and
//     is dropped — except delivered, which may skip stages;
//  5. otherwise a creation is ordered, carrying the carrier text and the
//     carrier's event time.
func Decide(sh *models.Shipment, obs carrier.Observation, existing []models.FulfillmentEvent) Action {
	if sh.IsDelivered || hasStatus(existing, models.CategoryDelivered) {
		return Action{Reason: ReasonAlreadyDelivered}
	}

	cat := classify.Classify(normalize.Text(obs.Text))
	if cat == models.CategoryNone {
		return Action{Reason: ReasonUnclassifiable}
	}

	if hasStatus(existing, cat) && !isRefresh(sh, obs, cat) {
		return Action{Reason: ReasonDuplicateStatus}
	}

	if cat != models.CategoryDelivered && cat.Rank() < sh.LastPlatformStatus.Rank() {
		return Action{Reason: ReasonStatusRegression}
	}

	return Action{
		Create:     true,
		Status:     cat,
		Message:    messagePrefix + obs.Text,
		HappenedAt: obs.OccurredAt,
	}
}

// isRefresh allows a same-category re-post only when the category matches the
// ledger's last status and the carrier timestamp is strictly newer than the
// last recorded observation. Missing timestamps deny the refresh.
func isRefresh(sh *models.Shipment, obs carrier.Observation, cat models.Category) bool {
	return cat == sh.LastPlatformStatus &&
		obs.OccurredAt != nil &&
		sh.LastCarrierEventAt != nil &&
		obs.OccurredAt.After(*sh.LastCarrierEventAt)
}

func hasStatus(events []models.FulfillmentEvent, cat models.Category) bool {
	for _, e := range events {
		if e.Status == cat {
			return true
		}
	}
	return false
}

type Emitter struct {
	platform platform.Client
}

func New(p platform.Client) *Emitter {
	return &Emitter{platform: p}
}

// Reconcile decides and, when a creation is ordered, performs the platform
// write. The returned Action reports what was done (or why nothing was).
func (e *Emitter) Reconcile(ctx context.Context, sh *models.Shipment, obs carrier.Observation, existing []models.FulfillmentEvent) (Action, error) {
	act := Decide(sh, obs, existing)
	if !act.Create {
		return act, nil
	}

	err := e.platform.CreateFulfillmentEvent(ctx, sh.OrderID, sh.FulfillmentID, platform.CreateEventInput{
		Status:     act.Status,
		Message:    act.Message,
		HappenedAt: act.HappenedAt,
	})
	if err != nil {
		return act, errors.Wrap(err, "create fulfillment event")
	}
	return act, nil
}
