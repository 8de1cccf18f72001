package gateway

import (
	"encoding/json"
	"fmt"
)

const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

type WebhookEvent struct {
	Event       string
	Transaction Transaction
}

// DecodeWebhook parses an already authenticated webhook body.
func (c *Client) DecodeWebhook(raw []byte) (WebhookEvent, error) {
	var body struct {
		Event string `json:"event"`
		Data  txData `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: webhook body: %v", ErrMalformed, err)
	}
	if body.Event == "" {
		return WebhookEvent{}, fmt.Errorf("%w: webhook without event", ErrMalformed)
	}
	return WebhookEvent{Event: body.Event, Transaction: c.transaction(body.Data)}, nil
}
