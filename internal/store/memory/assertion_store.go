package memory

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// AssertionStore implements domain.AssertionStore. A market can hold at most
// one live assertion.
type AssertionStore struct {
	mu       sync.RWMutex
	byID     map[common.Hash]domain.PendingAssertion
	byMarket map[common.Hash]common.Hash
}

// NewAssertionStore creates an empty AssertionStore.
func NewAssertionStore() *AssertionStore {
	return &AssertionStore{
		byID:     make(map[common.Hash]domain.PendingAssertion),
		byMarket: make(map[common.Hash]common.Hash),
	}
}

var _ domain.AssertionStore = (*AssertionStore)(nil)

func (s *AssertionStore) Create(_ context.Context, a domain.PendingAssertion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[a.ID]; ok {
		return fmt.Errorf("memory: create assertion %s: %w", a.ID.Hex(), domain.ErrAlreadyExists)
	}
	if _, ok := s.byMarket[a.MarketID]; ok {
		return fmt.Errorf("memory: create assertion for market %s: %w", a.MarketID.Hex(), domain.ErrAlreadyExists)
	}
	a.Bond = copyInt(a.Bond)
	s.byID[a.ID] = a
	s.byMarket[a.MarketID] = a.ID
	return nil
}

func (s *AssertionStore) GetByID(_ context.Context, id common.Hash) (domain.PendingAssertion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return domain.PendingAssertion{}, fmt.Errorf("memory: get assertion %s: %w", id.Hex(), domain.ErrNotFound)
	}
	a.Bond = copyInt(a.Bond)
	return a, nil
}

func (s *AssertionStore) GetByMarket(ctx context.Context, marketID common.Hash) (domain.PendingAssertion, error) {
	s.mu.RLock()
	id, ok := s.byMarket[marketID]
	s.mu.RUnlock()
	if !ok {
		return domain.PendingAssertion{}, fmt.Errorf("memory: get assertion for market %s: %w", marketID.Hex(), domain.ErrNotFound)
	}
	return s.GetByID(ctx, id)
}

func (s *AssertionStore) Delete(_ context.Context, id common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("memory: delete assertion %s: %w", id.Hex(), domain.ErrNotFound)
	}
	delete(s.byID, id)
	delete(s.byMarket, a.MarketID)
	return nil
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
