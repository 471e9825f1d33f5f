// Package memory is an in-process implementation of the storage contracts,
// used by tests and by STORAGE_BACKEND=memory.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/custody-ledger/backend/internal/ledger"
	"github.com/custody-ledger/backend/internal/models"
	"github.com/custody-ledger/backend/internal/storage"
	"github.com/google/uuid"
)

// Store keeps every table in maps guarded by mu. Mutations additionally hold
// a per-ledger lock, so one ledger's operations run one at a time while
// different ledgers proceed independently.
type Store struct {
	mu      sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
	escrows map[uuid.UUID]models.EscrowRecord
	rentals map[uuid.UUID]models.RentalRecord
	events  map[uuid.UUID][]models.LedgerEvent
	payouts map[uuid.UUID]models.Payout
	// transfers maps processed chain transfer keys to their outcome.
	transfers map[string]string
	audit     []models.AuditLog
	nextID    int64
	now       func() time.Time
}

type Option func(*Store)

// WithClock sets the clock used for record timestamps and payout leases.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		locks:     make(map[uuid.UUID]*sync.Mutex),
		escrows:   make(map[uuid.UUID]models.EscrowRecord),
		rentals:   make(map[uuid.UUID]models.RentalRecord),
		events:    make(map[uuid.UUID][]models.LedgerEvent),
		payouts:   make(map[uuid.UUID]models.Payout),
		transfers: make(map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// claimTransfer records key with outcome; s.mu must be held. An empty key is
// not a chain transfer and always succeeds.
func (s *Store) claimTransfer(key, outcome string) error {
	if key == "" {
		return nil
	}
	if _, ok := s.transfers[key]; ok {
		return models.ErrTransferProcessed
	}
	s.transfers[key] = outcome
	return nil
}

func (s *Store) transferSeen(key string) bool {
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.transfers[key]
	return ok
}

func (s *Store) lockFor(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func copyEscrow(e models.EscrowRecord) models.EscrowRecord {
	e.State = ledger.RestoreEscrow(e.State).State()
	return e
}

func copyRental(r models.RentalRecord) models.RentalRecord {
	r.State = ledger.RestoreRentalLedger(r.State, nil).State()
	return r
}

func copyPayout(p models.Payout) models.Payout {
	p.Amount = new(big.Int).Set(p.Amount)
	return p
}

// Escrows

func (s *Store) CreateEscrow(_ context.Context, e *models.EscrowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if _, ok := s.escrows[e.ID]; ok {
		return fmt.Errorf("escrow %s already exists", e.ID)
	}
	e.CreatedAt = s.now()
	e.UpdatedAt = e.CreatedAt
	s.escrows[e.ID] = copyEscrow(*e)
	return nil
}

func (s *Store) GetEscrow(_ context.Context, id uuid.UUID) (*models.EscrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[id]
	if !ok {
		return nil, models.ErrLedgerNotFound
	}
	cp := copyEscrow(e)
	return &cp, nil
}

func (s *Store) MutateEscrow(ctx context.Context, id uuid.UUID, transfer string, fn storage.EscrowMutation) (*models.EscrowRecord, ledger.Result, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	if s.transferSeen(transfer) {
		return nil, ledger.Result{}, models.ErrTransferProcessed
	}
	rec, err := s.GetEscrow(ctx, id)
	if err != nil {
		return nil, ledger.Result{}, err
	}
	res, err := fn(rec)
	if err != nil {
		return nil, ledger.Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A refund of the same transfer may have been queued meanwhile.
	if err := s.claimTransfer(transfer, storage.TransferApplied); err != nil {
		return nil, ledger.Result{}, err
	}
	rec.UpdatedAt = s.now()
	s.escrows[id] = copyEscrow(*rec)
	s.commit(id, models.LedgerKindEscrow, res)
	return rec, res, nil
}

// Rental systems

func (s *Store) CreateRental(_ context.Context, rs *models.RentalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs.ID == uuid.Nil {
		rs.ID = uuid.New()
	}
	if _, ok := s.rentals[rs.ID]; ok {
		return fmt.Errorf("rental system %s already exists", rs.ID)
	}
	rs.CreatedAt = s.now()
	rs.UpdatedAt = rs.CreatedAt
	s.rentals[rs.ID] = copyRental(*rs)
	return nil
}

func (s *Store) GetRental(_ context.Context, id uuid.UUID) (*models.RentalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.rentals[id]
	if !ok {
		return nil, models.ErrLedgerNotFound
	}
	cp := copyRental(rs)
	return &cp, nil
}

func (s *Store) MutateRental(ctx context.Context, id uuid.UUID, transfer string, fn storage.RentalMutation) (*models.RentalRecord, ledger.Result, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	if s.transferSeen(transfer) {
		return nil, ledger.Result{}, models.ErrTransferProcessed
	}
	rec, err := s.GetRental(ctx, id)
	if err != nil {
		return nil, ledger.Result{}, err
	}
	res, err := fn(rec)
	if err != nil {
		return nil, ledger.Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A refund of the same transfer may have been queued meanwhile.
	if err := s.claimTransfer(transfer, storage.TransferApplied); err != nil {
		return nil, ledger.Result{}, err
	}
	rec.UpdatedAt = s.now()
	s.rentals[id] = copyRental(*rec)
	s.commit(id, models.LedgerKindRental, res)
	return rec, res, nil
}

// commit appends events and payouts; s.mu must be held.
func (s *Store) commit(id uuid.UUID, kind string, res ledger.Result) {
	now := s.now()
	for _, ev := range res.Events {
		s.nextID++
		s.events[id] = append(s.events[id], models.LedgerEvent{
			ID:         s.nextID,
			LedgerID:   id,
			LedgerKind: kind,
			Seq:        ev.Seq,
			Name:       ev.Name,
			Args:       ev.Args,
			CreatedAt:  now,
		})
	}
	for _, p := range models.NewPayouts(id, kind, res.Payouts) {
		p.CreatedAt, p.UpdatedAt = now, now
		s.payouts[p.ID] = p
	}
}

// Events

func (s *Store) ListEvents(_ context.Context, ledgerID uuid.UUID, afterSeq uint64, limit int) ([]models.LedgerEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEvent
	for _, ev := range s.events[ledgerID] {
		if ev.Seq <= afterSeq {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Payouts

func (s *Store) Enqueue(_ context.Context, transfer string, payouts []models.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.claimTransfer(transfer, storage.TransferRefunded); err != nil {
		return err
	}
	now := s.now()
	for _, p := range payouts {
		p = copyPayout(p)
		p.CreatedAt, p.UpdatedAt = now, now
		s.payouts[p.ID] = p
	}
	return nil
}

func (s *Store) ClaimBatch(_ context.Context, limit int) ([]models.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []models.Payout
	for _, p := range s.payouts {
		if models.IsValidPayoutTransition(p.Status, models.PayoutStatusSending) {
			ready = append(ready, p)
		}
	}
	sortPayouts(ready)
	if len(ready) > limit {
		ready = ready[:limit]
	}

	now := s.now()
	out := make([]models.Payout, 0, len(ready))
	for _, p := range ready {
		p.Status = models.PayoutStatusSending
		p.Attempts++
		p.UpdatedAt = now
		s.payouts[p.ID] = p
		out = append(out, copyPayout(p))
	}
	return out, nil
}

func (s *Store) ClaimStale(_ context.Context, lease time.Duration, limit int) ([]models.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var stale []models.Payout
	for _, p := range s.payouts {
		if p.Status == models.PayoutStatusSending && now.Sub(p.UpdatedAt) > lease {
			stale = append(stale, p)
		}
	}
	sortPayouts(stale)
	if len(stale) > limit {
		stale = stale[:limit]
	}

	out := make([]models.Payout, 0, len(stale))
	for _, p := range stale {
		p.UpdatedAt = now
		s.payouts[p.ID] = p
		out = append(out, copyPayout(p))
	}
	return out, nil
}

func (s *Store) MarkSent(_ context.Context, id uuid.UUID, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok || !models.IsValidPayoutTransition(p.Status, models.PayoutStatusSent) {
		return fmt.Errorf("payout %s cannot become sent", id)
	}
	p.Status = models.PayoutStatusSent
	p.TxRef = &txRef
	p.LastError = nil
	p.UpdatedAt = s.now()
	s.payouts[id] = p
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, msg string, maxAttempts int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return "", fmt.Errorf("payout %s not found", id)
	}
	next := models.PayoutStatusFailed
	if p.Attempts >= maxAttempts {
		next = models.PayoutStatusAbandoned
	}
	if !models.IsValidPayoutTransition(p.Status, next) {
		return "", fmt.Errorf("payout %s cannot become %s", id, next)
	}
	p.Status = next
	p.LastError = &msg
	p.UpdatedAt = s.now()
	s.payouts[id] = p
	return p.Status, nil
}

func (s *Store) ListByLedger(_ context.Context, ledgerID uuid.UUID) ([]models.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payout
	for _, p := range s.payouts {
		if p.LedgerID == ledgerID {
			out = append(out, copyPayout(p))
		}
	}
	sortPayouts(out)
	return out, nil
}

// sortPayouts orders payouts oldest first. Payouts committed together share
// a timestamp and fall back to id order.
func sortPayouts(ps []models.Payout) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID.String() < ps[j].ID.String()
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}

// Audit

func (s *Store) Log(_ context.Context, entry models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = s.now()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) ByEntity(_ context.Context, entityID uuid.UUID, limit int) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditLog
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if e := s.audit[i]; e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

// AuditEntries returns a copy of the audit trail.
func (s *Store) AuditEntries() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditLog, len(s.audit))
	copy(out, s.audit)
	return out
}

var (
	_ storage.EscrowStore = (*Store)(nil)
	_ storage.RentalStore = (*Store)(nil)
	_ storage.EventStore  = (*Store)(nil)
	_ storage.PayoutStore = (*Store)(nil)
	_ storage.AuditStore  = (*Store)(nil)
)
