package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Asset is a fungible, transferable, approvable unit of value. Every
// mutating call names the acting account explicitly.
type Asset interface {
	Address() common.Address
	Symbol() string
	Decimals() uint8
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	TotalSupply(ctx context.Context) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
}

// AssetRegistry resolves asset addresses.
type AssetRegistry interface {
	Asset(addr common.Address) (Asset, error)
}
