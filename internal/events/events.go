package events

import (
	"context"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/google/uuid"
)

// StreamLedger carries every committed ledger event and payout outcome.
const StreamLedger = "events:ledger"

// Event types
const (
	EventLedger           = "ledger_event"
	EventPayoutSettled    = "payout_settled"
	EventTransferRejected = "transfer_rejected"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// LedgerID returns the payload's ledger_id, or "" if absent.
func (e Event) LedgerID() string {
	id, _ := e.Payload["ledger_id"].(string)
	return id
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// FromLedger wraps a committed ledger event for publishing.
func FromLedger(ledgerID uuid.UUID, kind string, ev ledger.Event) Event {
	return Event{
		Type: EventLedger,
		Payload: map[string]any{
			"ledger_id":   ledgerID.String(),
			"ledger_kind": kind,
			"seq":         ev.Seq,
			"name":        ev.Name,
			"args":        ev.Args,
		},
	}
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
