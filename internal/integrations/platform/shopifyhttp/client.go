// Package shopifyhttp talks to the Shopify admin REST API: order discovery
// and fulfillment-event reads/writes.
package shopifyhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"shipsync/internal/integrations/platform"
	"shipsync/internal/models"
	"shipsync/internal/retry"
)

type Client struct {
	baseURL     string
	accessToken string
	policy      *retry.Policy
	httpc       *http.Client

	pageLimit int
	maxPages  int
}

func New(storeDomain, apiVersion, accessToken string, policy *retry.Policy, timeout time.Duration, pageLimit, maxPages int) *Client {
	if apiVersion == "" {
		apiVersion = "2024-04"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if pageLimit <= 0 || pageLimit > 250 {
		pageLimit = 50
	}
	if maxPages <= 0 {
		maxPages = 10
	}
	if policy == nil {
		policy = retry.NewPolicy(0, 0, 0)
	}
	base := storeDomain
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &Client{
		baseURL:     fmt.Sprintf("%s/admin/api/%s", base, apiVersion),
		accessToken: accessToken,
		policy:      policy,
		httpc: &http.Client{
			Timeout: timeout,
		},
		pageLimit: pageLimit,
		maxPages:  maxPages,
	}
}

type orderResp struct {
	Orders []struct {
		ID           uint64 `json:"id"`
		Fulfillments []struct {
			ID             uint64     `json:"id"`
			TrackingNumber string     `json:"tracking_number"`
			CreatedAt      *time.Time `json:"created_at"`
		} `json:"fulfillments"`
	} `json:"orders"`
}

type eventsResp struct {
	FulfillmentEvents []struct {
		ID         uint64     `json:"id"`
		Status     string     `json:"status"`
		Message    string     `json:"message"`
		HappenedAt *time.Time `json:"happened_at"`
	} `json:"fulfillment_events"`
}

func (c *Client) ListShippedFulfillments(ctx context.Context) ([]platform.Fulfillment, error) {
	next := fmt.Sprintf("%s/orders.json?status=any&fulfillment_status=shipped&limit=%d", c.baseURL, c.pageLimit)

	var out []platform.Fulfillment
	for page := 0; page < c.maxPages && next != ""; page++ {
		var r orderResp
		var nextLink string
		err := c.policy.Do(ctx, "platform list orders", func(ctx context.Context) error {
			// Fresh value per attempt: a partially-decoded body from a failed
			// attempt must not leak into the next one.
			var parsed orderResp
			link, err := c.getJSON(ctx, next, &parsed)
			if err != nil {
				return err
			}
			r, nextLink = parsed, link
			return nil
		})
		if err != nil {
			return nil, err
		}

		for _, o := range r.Orders {
			for _, f := range o.Fulfillments {
				if strings.TrimSpace(f.TrackingNumber) == "" {
					continue
				}
				out = append(out, platform.Fulfillment{
					OrderID:        o.ID,
					FulfillmentID:  f.ID,
					TrackingNumber: strings.TrimSpace(f.TrackingNumber),
					ShippedAt:      f.CreatedAt,
				})
			}
		}
		next = nextLink
	}
	return out, nil
}

func (c *Client) ListFulfillmentEvents(ctx context.Context, orderID, fulfillmentID uint64) ([]models.FulfillmentEvent, error) {
	u := fmt.Sprintf("%s/orders/%d/fulfillments/%d/events.json", c.baseURL, orderID, fulfillmentID)

	var r eventsResp
	err := c.policy.Do(ctx, "platform list events", func(ctx context.Context) error {
		var parsed eventsResp
		if _, err := c.getJSON(ctx, u, &parsed); err != nil {
			return err
		}
		r = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.FulfillmentEvent, 0, len(r.FulfillmentEvents))
	for _, e := range r.FulfillmentEvents {
		out = append(out, models.FulfillmentEvent{
			ID:         e.ID,
			Status:     models.Category(strings.TrimSpace(e.Status)),
			Message:    e.Message,
			HappenedAt: e.HappenedAt,
		})
	}
	return out, nil
}

func (c *Client) CreateFulfillmentEvent(ctx context.Context, orderID, fulfillmentID uint64, in platform.CreateEventInput) error {
	u := fmt.Sprintf("%s/orders/%d/fulfillments/%d/events.json", c.baseURL, orderID, fulfillmentID)

	ev := map[string]any{
		"status":  string(in.Status),
		"message": in.Message,
	}
	if in.HappenedAt != nil {
		ev["happened_at"] = in.HappenedAt.UTC().Format(time.RFC3339)
	}
	body, err := json.Marshal(map[string]any{"fulfillment_event": ev})
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	return c.policy.Do(ctx, "platform create event", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return errors.Wrap(err, "new request")
		}
		c.setHeaders(req)

		resp, err := c.httpc.Do(req)
		if err != nil {
			return errors.Wrap(err, "do request")
		}
		defer resp.Body.Close()

		if err := retry.ResponseError(resp); err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	})
}

// getJSON performs one GET, decodes into v and returns the rel="next" link if
// the response carries one.
func (c *Client) getJSON(ctx context.Context, u string, v any) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	c.setHeaders(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if err := retry.ResponseError(resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read body")
	}
	if len(body) == 0 {
		return "", errors.Wrap(retry.ErrMalformed, "empty body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return "", errors.Wrap(retry.ErrMalformed, err.Error())
	}
	return nextPageLink(resp.Header.Get("Link")), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// nextPageLink extracts the rel="next" URL from a Link header of the form
// <https://...page_info=abc>; rel="next", <...>; rel="previous".
func nextPageLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		section := strings.Split(part, ";")
		if len(section) < 2 {
			continue
		}
		if !strings.Contains(section[1], `rel="next"`) {
			continue
		}
		raw := strings.Trim(strings.TrimSpace(section[0]), "<>")
		if _, err := url.Parse(raw); err == nil {
			return raw
		}
	}
	return ""
}
