// Package ctthttp resolves tracking status from the CTT Express public
// tracking endpoint.
package ctthttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"shipsync/internal/integrations/carrier"
	"shipsync/internal/retry"
)

const trackingPlaceholder = "{tracking}"

type Client struct {
	endpointTemplate string
	extraHeaders     map[string]string
	policy           *retry.Policy
	httpc            *http.Client
}

// New builds a client for an endpoint template containing "{tracking}",
// e.g. "https://wct.cttexpress.com/p_track_redis.php?sc={tracking}".
// headersExtra uses the "Header1:Value1|Header2:Value2" format.
func New(endpointTemplate, headersExtra string, policy *retry.Policy, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if policy == nil {
		policy = retry.NewPolicy(0, 0, 0)
	}
	return &Client{
		endpointTemplate: endpointTemplate,
		extraHeaders:     parseHeadersExtra(headersExtra),
		policy:           policy,
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

func parseHeadersExtra(raw string) map[string]string {
	headers := map[string]string{}
	for _, p := range strings.Split(raw, "|") {
		k, v, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers
}

type cttEvent struct {
	Description string `json:"description"`
	EventDate   string `json:"event_date"`
}

type cttResp struct {
	Data struct {
		ShippingHistory struct {
			Events []cttEvent `json:"events"`
		} `json:"shipping_history"`
	} `json:"data"`
}

func (c *Client) Resolve(ctx context.Context, trackingNumber string) (*carrier.Observation, error) {
	u := strings.ReplaceAll(c.endpointTemplate, trackingPlaceholder, trackingNumber)

	var r cttResp
	err := c.policy.Do(ctx, "carrier tracking", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return errors.Wrap(err, "new request")
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range c.extraHeaders {
			req.Header.Set(k, v)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return errors.Wrap(err, "do request")
		}
		defer resp.Body.Close()

		if err := retry.ResponseError(resp); err != nil {
			return err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.Wrap(err, "read body")
		}
		if len(body) == 0 {
			return errors.Wrap(retry.ErrMalformed, "empty body")
		}

		// Decode into a fresh value per attempt so a partially-decoded body
		// from a failed attempt cannot leak into the next one.
		var parsed cttResp
		if err := json.Unmarshal(body, &parsed); err != nil {
			return errors.Wrap(retry.ErrMalformed, err.Error())
		}
		r = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := r.Data.ShippingHistory.Events
	if len(events) == 0 {
		return nil, nil
	}

	// The feed claims oldest-to-newest but is not trusted; re-sort by parsed
	// date, keeping entries with unparsable dates first so they never shadow a
	// dated one.
	sort.SliceStable(events, func(i, j int) bool {
		ti, iok := parseEventDate(events[i].EventDate)
		tj, jok := parseEventDate(events[j].EventDate)
		if iok != jok {
			return !iok
		}
		if !iok {
			return false
		}
		return ti.Before(tj)
	})

	last := events[len(events)-1]
	obs := &carrier.Observation{Text: strings.TrimSpace(last.Description)}
	if at, ok := parseEventDate(last.EventDate); ok {
		obs.OccurredAt = &at
	}
	return obs, nil
}

var eventDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseEventDate accepts the ISO-ish formats the feed has been seen to emit;
// naive timestamps are taken as UTC.
func parseEventDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range eventDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
