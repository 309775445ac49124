package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AssertionRequest is a bonded claim submitted for adjudication. The bond is
// pulled from Payer; the resolution is delivered to CallbackRecipient.
type AssertionRequest struct {
	Claim             []byte
	Asserter          common.Address
	Payer             common.Address
	CallbackRecipient common.Address
	Liveness          time.Duration
	Currency          common.Address
	Bond              *big.Int
	Identifier        [32]byte
}

// Oracle is the truth resolution service.
type Oracle interface {
	Address() common.Address
	MinimumBond(ctx context.Context, currency common.Address) (*big.Int, error)
	AssertTruth(ctx context.Context, req AssertionRequest) (common.Hash, error)
}

// ResolutionMessage is the inbound verdict for an assertion. Sender is the
// verified identity of whoever delivered it.
type ResolutionMessage struct {
	Sender      common.Address
	AssertionID common.Hash
	Truthful    bool
}

// DisputeMessage notifies that an assertion was disputed.
type DisputeMessage struct {
	Sender      common.Address
	AssertionID common.Hash
}

// ResolutionHandler consumes oracle callbacks.
type ResolutionHandler interface {
	HandleResolution(ctx context.Context, msg ResolutionMessage) error
	HandleDispute(ctx context.Context, msg DisputeMessage) error
}
