package ride

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Ride Store for tests and single-node dev.
// It guards all state with one mutex and implements CompareAndSet as a
// check-then-set under that lock, which is the emulation the design notes
// call for when the underlying storage can't offer the primitive natively
// (internal/storage.Postgres offers it natively via a conditional UPDATE).
type MemoryStore struct {
	mu     sync.Mutex
	rides  map[string]*Ride
	byCode map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:  make(map[string]*Ride),
		byCode: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, n NewRide) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	code, err := s.uniqueCodeLocked()
	if err != nil {
		return nil, Fatal("code generation exhausted", err)
	}

	r := &Ride{
		ID:            uuid.NewString(),
		Code:          code,
		PassengerID:   n.PassengerID,
		Pickup:        n.Pickup,
		Dropoff:       n.Dropoff,
		FareAmount:    n.FareAmount,
		Currency:      n.Currency,
		DistanceKM:    n.DistanceKM,
		DurationMin:   n.DurationMin,
		PaymentMethod: n.PaymentMethod,
		Status:        StatusRequested,
		IsDispatching: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.rides[r.ID] = r
	s.byCode[r.Code] = r.ID
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, NotFound("ride not found")
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) FindActiveForPassenger(_ context.Context, passengerID string) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rides {
		if r.PassengerID == passengerID && r.Active() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindActiveForCaptain(_ context.Context, captainID string) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rides {
		if r.CaptainID == captainID && r.Active() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

// FindRecentCompletedForPassenger scans for the newest completed, unrated
// ride for passengerID that ended at or after since.
func (s *MemoryStore) FindRecentCompletedForPassenger(_ context.Context, passengerID string, since time.Time) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Ride
	for _, r := range s.rides {
		if r.PassengerID != passengerID || r.Status != StatusCompleted || r.Rating != nil {
			continue
		}
		if r.EndedAt == nil || r.EndedAt.Before(since) {
			continue
		}
		if best == nil || r.EndedAt.After(*best.EndedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) CompareAndSet(_ context.Context, id string, expected Status, patch Patch) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rides[id]
	if !ok {
		return nil, NotFound("ride not found")
	}
	if r.Status != expected {
		return nil, Conflict("ride status is " + string(r.Status) + ", expected " + string(expected))
	}

	applyPatch(r, patch)
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRequestedWithoutDispatcher(_ context.Context, excludeIDs []string) ([]*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exclude := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		exclude[id] = struct{}{}
	}

	out := make([]*Ride, 0)
	for _, r := range s.rides {
		if r.Status != StatusRequested {
			continue
		}
		if _, skip := exclude[r.ID]; skip {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func applyPatch(r *Ride, patch Patch) {
	r.Status = patch.Status
	if patch.ClearCaptain {
		r.CaptainID = ""
	} else if patch.CaptainID != nil {
		r.CaptainID = *patch.CaptainID
	}
	if patch.IsDispatching != nil {
		r.IsDispatching = *patch.IsDispatching
	}
	if patch.AcceptedAt != nil {
		r.AcceptedAt = patch.AcceptedAt
	}
	if patch.ArrivedAt != nil {
		r.ArrivedAt = patch.ArrivedAt
	}
	if patch.StartedAt != nil {
		r.StartedAt = patch.StartedAt
	}
	if patch.EndedAt != nil {
		r.EndedAt = patch.EndedAt
	}
	if patch.ClearCancellationReason {
		r.CancellationReason = ""
	} else if patch.CancellationReason != nil {
		r.CancellationReason = *patch.CancellationReason
	}
	if patch.CancellationFee != nil {
		r.CancellationFee = *patch.CancellationFee
	}
	r.UpdatedAt = time.Now()
}

const codeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func (s *MemoryStore) uniqueCodeLocked() (string, error) {
	for attempt := 0; attempt < 20; attempt++ {
		code, err := randomCode(6)
		if err != nil {
			return "", err
		}
		if _, exists := s.byCode[code]; !exists {
			return code, nil
		}
	}
	return "", Fatal("could not find unused ride code", nil)
}

func randomCode(n int) (string, error) {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[idx.Int64()]
	}
	return string(b), nil
}
