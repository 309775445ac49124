package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// PoolStore implements domain.PoolStore.
type PoolStore struct {
	mu       sync.RWMutex
	byMarket map[common.Hash]domain.PoolRecord
	byPool   map[common.Address]common.Hash
}

// NewPoolStore creates an empty PoolStore.
func NewPoolStore() *PoolStore {
	return &PoolStore{
		byMarket: make(map[common.Hash]domain.PoolRecord),
		byPool:   make(map[common.Address]common.Hash),
	}
}

var _ domain.PoolStore = (*PoolStore)(nil)

func (s *PoolStore) Create(_ context.Context, p domain.PoolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byMarket[p.MarketID]; ok {
		return fmt.Errorf("memory: create pool for market %s: %w", p.MarketID.Hex(), domain.ErrAlreadyExists)
	}
	if _, ok := s.byPool[p.Pool]; ok {
		return fmt.Errorf("memory: create pool %s: %w", p.Pool.Hex(), domain.ErrAlreadyExists)
	}
	s.byMarket[p.MarketID] = p
	s.byPool[p.Pool] = p.MarketID
	return nil
}

func (s *PoolStore) GetByMarket(_ context.Context, marketID common.Hash) (domain.PoolRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byMarket[marketID]
	if !ok {
		return domain.PoolRecord{}, fmt.Errorf("memory: get pool for market %s: %w", marketID.Hex(), domain.ErrNotFound)
	}
	return p, nil
}

func (s *PoolStore) GetByPool(_ context.Context, pool common.Address) (domain.PoolRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPool[pool]
	if !ok {
		return domain.PoolRecord{}, fmt.Errorf("memory: get pool %s: %w", pool.Hex(), domain.ErrNotFound)
	}
	return s.byMarket[id], nil
}

func (s *PoolStore) MarkInitialized(_ context.Context, marketID common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byMarket[marketID]
	if !ok {
		return fmt.Errorf("memory: mark pool initialized %s: %w", marketID.Hex(), domain.ErrNotFound)
	}
	p.Initialized = true
	s.byMarket[marketID] = p
	return nil
}
