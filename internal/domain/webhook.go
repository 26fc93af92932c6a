package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind is a gateway payment-status event type.
type EventKind string

const (
	EventPaymentPaid      EventKind = "payment.paid"
	EventPaymentExpired   EventKind = "payment.expired"
	EventPaymentCancelled EventKind = "payment.cancelled"
)

// WebhookEvent is one callback delivered by the PIX gateway.
type WebhookEvent struct {
	EventID     string          `json:"event_id"`
	Kind        EventKind       `json:"kind"`
	ReferenceID string          `json:"reference_id"` // the sale's charge id
	Payload     json.RawMessage `json:"payload,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
}

func (e *WebhookEvent) Validate() error {
	if e.EventID == "" {
		return &ErrValidation{Field: "event_id", Message: "required"}
	}
	if e.ReferenceID == "" {
		return &ErrValidation{Field: "reference_id", Message: "required"}
	}
	switch e.Kind {
	case EventPaymentPaid, EventPaymentExpired, EventPaymentCancelled:
	default:
		return &ErrValidation{Field: "kind", Message: fmt.Sprintf("unsupported event kind '%s'", e.Kind)}
	}
	return nil
}

// Ack is returned to the gateway. Any Ack means 200; errors mean retry.
type Ack struct {
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Anomaly   string `json:"anomaly,omitempty"`
	SaleID    string `json:"sale_id,omitempty"`
	Result    string `json:"result"`
}

// Ack results.
const (
	AckSettled  = "settled"
	AckNoop     = "noop"
	AckExpired  = "expired"
	AckFailed   = "failed"
	AckIgnored  = "ignored"
	AckReplayed = "replayed"
)
