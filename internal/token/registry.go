package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// Registry maps addresses to assets.
type Registry struct {
	mu     sync.RWMutex
	assets map[common.Address]domain.Asset
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{assets: make(map[common.Address]domain.Asset)}
}

var _ domain.AssetRegistry = (*Registry)(nil)

// Register adds a. A second asset at the same address is rejected.
func (r *Registry) Register(a domain.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[a.Address()]; ok {
		return fmt.Errorf("token registry: register %s: %w", a.Address().Hex(), domain.ErrAlreadyExists)
	}
	r.assets[a.Address()] = a
	return nil
}

// Asset returns the asset at addr.
func (r *Registry) Asset(addr common.Address) (domain.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[addr]
	if !ok {
		return nil, fmt.Errorf("token registry: asset %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return a, nil
}

// AddressAllocator derives contract-style addresses from a deployer and a
// nonce, as crypto.CreateAddress does for on-chain deployments.
type AddressAllocator struct {
	mu       sync.Mutex
	deployer common.Address
	nonce    uint64
}

// NewAddressAllocator starts allocating at nonce.
func NewAddressAllocator(deployer common.Address, nonce uint64) *AddressAllocator {
	return &AddressAllocator{deployer: deployer, nonce: nonce}
}

// Next returns a fresh address.
func (a *AddressAllocator) Next() common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr := ethcrypto.CreateAddress(a.deployer, a.nonce)
	a.nonce++
	return addr
}
