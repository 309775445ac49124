// Package memory provides map-backed implementations of the domain stores
// for the memory mode and for tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	mu      sync.RWMutex
	markets map[common.Hash]domain.Market
}

// NewMarketStore creates an empty MarketStore.
func NewMarketStore() *MarketStore {
	return &MarketStore{markets: make(map[common.Hash]domain.Market)}
}

var _ domain.MarketStore = (*MarketStore)(nil)

// Create inserts m, failing with ErrAlreadyExists if the id is taken.
func (s *MarketStore) Create(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("memory: create market %s: %w", m.ID.Hex(), domain.ErrAlreadyExists)
	}
	s.markets[m.ID] = m.Clone()
	return nil
}

// Update replaces an existing market.
func (s *MarketStore) Update(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; !ok {
		return fmt.Errorf("memory: update market %s: %w", m.ID.Hex(), domain.ErrNotFound)
	}
	s.markets[m.ID] = m.Clone()
	return nil
}

// GetByID returns the market with the given id.
func (s *MarketStore) GetByID(_ context.Context, id common.Hash) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: get market %s: %w", id.Hex(), domain.ErrNotFound)
	}
	return m.Clone(), nil
}

// List returns markets newest first.
func (s *MarketStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return s.filter(opts, func(domain.Market) bool { return true }), nil
}

// ListResolved returns resolved markets newest first; Since/Until apply to
// the resolution time.
func (s *MarketStore) ListResolved(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return s.filter(domain.ListOpts{Limit: opts.Limit, Offset: opts.Offset}, func(m domain.Market) bool {
		if !m.Resolved || m.ResolvedAt == nil {
			return false
		}
		if opts.Since != nil && m.ResolvedAt.Before(*opts.Since) {
			return false
		}
		if opts.Until != nil && !m.ResolvedAt.Before(*opts.Until) {
			return false
		}
		return true
	}), nil
}

func (s *MarketStore) filter(opts domain.ListOpts, keep func(domain.Market) bool) []domain.Market {
	s.mu.RLock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if opts.Since != nil && m.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !m.CreatedAt.Before(*opts.Until) {
			continue
		}
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, opts)
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return items[:0]
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
