package services

import (
	"context"
	"sync"
	"time"

	"github.com/custody-ledger/backend/internal/events"
	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/storage/memory"
	"go.uber.org/zap"
)

var (
	payer      = ledger.Address("EQpayer")
	payee      = ledger.Address("EQpayee")
	arbitrator = ledger.Address("EQarbitrator")
	stranger   = ledger.Address("EQstranger")
	owner      = ledger.Address("EQowner")
	renter     = ledger.Address("EQrenter")

	t0   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	week = 7 * 24 * time.Hour
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if n, ok := e.Payload["name"].(string); ok {
			out = append(out, n)
		}
	}
	return out
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store  *memory.Store
	pub    *recordingPublisher
	clock  *fakeClock
	escrow *EscrowService
	rental *RentalService
}

func newFixture(policy ledger.FeePolicy) *fixture {
	clock := &fakeClock{now: t0}
	store := memory.NewStore(memory.WithClock(clock.Now))
	pub := &recordingPublisher{}
	log := zap.NewNop()
	return &fixture{
		store:  store,
		pub:    pub,
		clock:  clock,
		escrow: NewEscrowService(store, store, store, pub, clock, nil, log),
		rental: NewRentalService(store, store, store, pub, policy, clock, nil, log),
	}
}
