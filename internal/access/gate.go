// Package access gates market creation behind an owner-managed whitelist.
package access

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// Gate is an owner-controlled whitelist. The owner is always allowed.
type Gate struct {
	owner common.Address

	mu      sync.RWMutex
	allowed map[common.Address]struct{}
}

// NewGate creates a gate seeded with whitelist.
func NewGate(owner common.Address, whitelist []common.Address) *Gate {
	g := &Gate{owner: owner, allowed: make(map[common.Address]struct{}, len(whitelist))}
	for _, a := range whitelist {
		g.allowed[a] = struct{}{}
	}
	return g
}

// Owner returns the gate owner.
func (g *Gate) Owner() common.Address { return g.owner }

// Allowed reports whether addr may create markets. A nil gate allows everyone.
func (g *Gate) Allowed(addr common.Address) bool {
	if g == nil {
		return true
	}
	if addr == g.owner {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.allowed[addr]
	return ok
}

// Check returns domain.ErrNotWhitelisted when addr is not allowed.
func (g *Gate) Check(addr common.Address) error {
	if !g.Allowed(addr) {
		return fmt.Errorf("access: %s: %w", addr.Hex(), domain.ErrNotWhitelisted)
	}
	return nil
}

// Add whitelists addr. Only the owner may call it.
func (g *Gate) Add(caller, addr common.Address) error {
	if caller != g.owner {
		return fmt.Errorf("access: add %s: %w", addr.Hex(), domain.ErrNotOwner)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowed[addr] = struct{}{}
	return nil
}

// Remove drops addr from the whitelist. Only the owner may call it.
func (g *Gate) Remove(caller, addr common.Address) error {
	if caller != g.owner {
		return fmt.Errorf("access: remove %s: %w", addr.Hex(), domain.ErrNotOwner)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.allowed, addr)
	return nil
}

// List returns the whitelist sorted by address.
func (g *Gate) List() []common.Address {
	g.mu.RLock()
	out := make([]common.Address, 0, len(g.allowed))
	for a := range g.allowed {
		out = append(out, a)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}
