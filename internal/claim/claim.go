// Package claim holds the hashing and encoding rules shared by the market
// ledger and the position custodian: outcome ids, market ids, the oracle
// claim text and canonical pool token ordering.
package claim

import (
	"bytes"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Unresolvable is the reserved outcome label that splits settlement evenly
// between both legs.
const Unresolvable = "Unresolvable"

// DefaultIdentifier is the oracle price identifier used for assertions.
const DefaultIdentifier = "ASSERT_TRUTH"

// UnresolvableID is OutcomeID(Unresolvable).
var UnresolvableID = OutcomeID(Unresolvable)

// Supported pool fee tiers in hundredths of a basis point.
const (
	FeeTierLow    uint32 = 500
	FeeTierMedium uint32 = 3000
	FeeTierHigh   uint32 = 10000
)

// OutcomeID hashes an outcome label.
func OutcomeID(label string) common.Hash {
	return ethcrypto.Keccak256Hash([]byte(label))
}

var marketIDArgs = abi.Arguments{
	{Type: mustType("uint256")},
	{Type: mustType("bytes")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("claim: abi type %s: %v", t, err))
	}
	return typ
}

// MarketID derives a market identifier from a context value and the market
// description: keccak256(abi.encode(context, description)). Identical
// descriptions collide only within the same context value.
func MarketID(context uint64, description string) (common.Hash, error) {
	packed, err := marketIDArgs.Pack(new(big.Int).SetUint64(context), []byte(description))
	if err != nil {
		return common.Hash{}, fmt.Errorf("claim: encode market id: %w", err)
	}
	return ethcrypto.Keccak256Hash(packed), nil
}

// Compose builds the human-readable claim submitted to the oracle.
func Compose(timestamp int64, outcome, description string) []byte {
	var b bytes.Buffer
	b.WriteString("As of assertion timestamp ")
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteString(", the described prediction market outcome is: ")
	b.WriteString(outcome)
	b.WriteString(". The market description is: ")
	b.WriteString(description)
	return b.Bytes()
}

// Identifier right-pads name into a bytes32 identifier.
func Identifier(name string) [32]byte {
	var id [32]byte
	copy(id[:], name)
	return id
}

// SortTokens returns a and b with the lower address first.
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}

// StartingSqrtPriceX96 returns the Q64.96 square root of a 1:1 price.
func StartingSqrtPriceX96() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), 96)
}

// ValidFeeTier reports whether fee is a supported pool fee tier.
func ValidFeeTier(fee uint32) bool {
	switch fee {
	case FeeTierLow, FeeTierMedium, FeeTierHigh:
		return true
	}
	return false
}
