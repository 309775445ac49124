package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

type positionKey struct {
	user   common.Address
	market common.Hash
}

// PositionStore implements domain.PositionStore keyed by (user, market).
type PositionStore struct {
	mu        sync.RWMutex
	positions map[positionKey]domain.Position
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[positionKey]domain.Position)}
}

var _ domain.PositionStore = (*PositionStore)(nil)

func (s *PositionStore) Create(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := positionKey{p.User, p.MarketID}
	if _, ok := s.positions[k]; ok {
		return fmt.Errorf("memory: create position %s/%s: %w", p.User.Hex(), p.MarketID.Hex(), domain.ErrAlreadyExists)
	}
	s.positions[k] = p
	return nil
}

func (s *PositionStore) Get(_ context.Context, user common.Address, marketID common.Hash) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[positionKey{user, marketID}]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: get position %s/%s: %w", user.Hex(), marketID.Hex(), domain.ErrNotFound)
	}
	return p, nil
}

func (s *PositionStore) Touch(_ context.Context, user common.Address, marketID common.Hash, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := positionKey{user, marketID}
	p, ok := s.positions[k]
	if !ok {
		return fmt.Errorf("memory: touch position %s/%s: %w", user.Hex(), marketID.Hex(), domain.ErrNotFound)
	}
	p.UpdatedAt = at
	s.positions[k] = p
	return nil
}

func (s *PositionStore) ListByUser(_ context.Context, user common.Address) ([]domain.Position, error) {
	s.mu.RLock()
	out := make([]domain.Position, 0)
	for k, p := range s.positions {
		if k.user == user {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
