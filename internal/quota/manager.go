package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arcana/api/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrQuotaExceeded is returned when the period limit is already reached
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrReservationResolved is returned for a conflicting transition on a resolved reservation
	ErrReservationResolved = errors.New("reservation already resolved")
	// ErrNoOutstandingReservation means the store had no reserved unit to resolve
	ErrNoOutstandingReservation = errors.New("no outstanding reservation")
)

// Reservation is a tentative quota debit that resolves exactly once
type Reservation struct {
	RequesterID string
	PeriodKey   string
	ReservedAt  time.Time

	mu    sync.Mutex
	state models.ReservationState
}

// State returns the current lifecycle state
func (r *Reservation) State() models.ReservationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reservation) key() Key {
	return Key{RequesterID: r.RequesterID, PeriodKey: r.PeriodKey}
}

// Manager reserves, commits and releases quota units
type Manager struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a reservation manager over a counter store
func NewManager(store Store, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// PeriodKey returns the monthly period key for t
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CurrentPeriod returns the period key for now
func (m *Manager) CurrentPeriod() string {
	return PeriodKey(m.now())
}

// Reserve takes one unit for requesterID in periodKey if the limit allows it
func (m *Manager) Reserve(ctx context.Context, requesterID, periodKey string, limit int) (*Reservation, error) {
	key := Key{RequesterID: requesterID, PeriodKey: periodKey}

	counters, err := m.store.Reserve(ctx, key, limit)
	if errors.Is(err, ErrQuotaExceeded) {
		m.logger.Info("quota exceeded",
			zap.String("requester_id", requesterID),
			zap.String("period", periodKey),
			zap.Int("committed", counters.Committed),
			zap.Int("reserved", counters.Reserved),
			zap.Int("limit", limit),
		)
		return nil, ErrQuotaExceeded
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve quota: %w", err)
	}

	return &Reservation{
		RequesterID: requesterID,
		PeriodKey:   periodKey,
		ReservedAt:  m.now(),
		state:       models.ReservationReserved,
	}, nil
}

// Commit charges the reservation. Calling it twice is a no-op.
func (m *Manager) Commit(ctx context.Context, r *Reservation) error {
	return m.resolve(ctx, r, models.ReservationCommitted, m.store.Commit)
}

// Release returns the reserved unit. Calling it twice is a no-op.
func (m *Manager) Release(ctx context.Context, r *Reservation) error {
	return m.resolve(ctx, r, models.ReservationReleased, m.store.Release)
}

func (m *Manager) resolve(ctx context.Context, r *Reservation, target models.ReservationState, apply func(context.Context, Key) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case target:
		return nil
	case models.ReservationCommitted, models.ReservationReleased:
		return fmt.Errorf("cannot move %s reservation to %s: %w", r.state, target, ErrReservationResolved)
	}

	// state stays reserved on failure so the caller can retry or release
	if err := apply(ctx, r.key()); err != nil {
		return fmt.Errorf("failed to mark reservation %s: %w", target, err)
	}
	r.state = target
	return nil
}

// Usage reports consumption for requesterID in periodKey
func (m *Manager) Usage(ctx context.Context, requesterID, periodKey string, limit int) (models.Usage, error) {
	counters, err := m.store.Counters(ctx, Key{RequesterID: requesterID, PeriodKey: periodKey})
	if err != nil {
		return models.Usage{}, fmt.Errorf("failed to read quota usage: %w", err)
	}

	remaining := -1
	if limit > 0 {
		remaining = limit - counters.Committed - counters.Reserved
		if remaining < 0 {
			remaining = 0
		}
	}

	return models.Usage{
		PeriodKey: periodKey,
		Committed: counters.Committed,
		Reserved:  counters.Reserved,
		Limit:     limit,
		Remaining: remaining,
	}, nil
}
