package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/custody-ledger/backend/internal/events"
	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type fakeSubscriber struct {
	stream  string
	handler func(events.Event)
}

func (s *fakeSubscriber) Subscribe(_ context.Context, stream string, handler func(events.Event)) error {
	s.stream, s.handler = stream, handler
	return nil
}

func TestWSHubSubscribesToLedgerStream(t *testing.T) {
	sub := &fakeSubscriber{}
	hub := NewWSHub("secret", sub, zap.NewNop())
	if err := hub.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sub.stream != events.StreamLedger {
		t.Errorf("stream = %q, want %q", sub.stream, events.StreamLedger)
	}

	// Nobody watches yet; delivery must be a no-op.
	sub.handler(events.Event{Type: events.EventLedger, Payload: map[string]any{"ledger_id": "6f1c7d1e-2a3b-4c5d-8e9f-0a1b2c3d4e5f"}})
	sub.handler(events.Event{Type: events.EventTransferRejected, Payload: map[string]any{}})
	if n := hub.Watchers("6f1c7d1e-2a3b-4c5d-8e9f-0a1b2c3d4e5f"); n != 0 {
		t.Errorf("watchers = %d", n)
	}
}

func TestWSUpgradeRequired(t *testing.T) {
	app := fiber.New()
	app.Use("/ws", WSUpgradeMiddleware())
	app.Get("/ws", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	resp, err := app.Test(httptest.NewRequest("GET", "/ws?ledger_id=x", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrLedgerNotFound, fiber.StatusNotFound},
		{fmt.Errorf("book 3: %w", ledger.ErrNotFound), fiber.StatusNotFound},
		{ledger.ErrUnauthorized, fiber.StatusForbidden},
		{ledger.ErrAlreadyFunded, fiber.StatusConflict},
		{fmt.Errorf("%w: expected 1, got 2", ledger.ErrAmountMismatch), fiber.StatusBadRequest},
		{ledger.ErrDeadlinePassed, fiber.StatusUnprocessableEntity},
		{errors.New("connection refused"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
