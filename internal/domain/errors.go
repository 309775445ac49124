package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")

	// ErrUnrecoverableState means persisted markets reference outcome and
	// collateral balances that only ever lived in a previous process.
	ErrUnrecoverableState = errors.New("persisted markets have no in-process token state")
)

// Validation errors are raised before any state mutation or transfer.
var (
	ErrMarketAlreadyExists     = errors.New("market already exists")
	ErrEmptyOutcome            = errors.New("outcome label is empty")
	ErrOutcomesIdentical       = errors.New("outcome labels are identical")
	ErrEmptyDescription        = errors.New("market description is empty")
	ErrMarketDoesNotExist      = errors.New("market does not exist")
	ErrInvalidAssertionOutcome = errors.New("asserted outcome is not a market outcome")
	ErrTokensIdentical         = errors.New("pool tokens are identical")
	ErrPoolAlreadyExists       = errors.New("pool already exists for market")
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrInvalidFeeTier          = errors.New("unsupported fee tier")
	ErrInvalidRange            = errors.New("invalid price range")
	ErrUnknownAssertion        = errors.New("unknown assertion")
)

// Authorization errors are never retried.
var (
	ErrNotAuthorized         = errors.New("caller is not authorized")
	ErrNotWhitelisted        = errors.New("caller is not whitelisted")
	ErrNotOwner              = errors.New("caller is not the owner")
	ErrUnknownCallbackSource = errors.New("callback sender is not a registered pool")
	ErrInvalidSignature      = errors.New("invalid callback signature")
)

// Economic and state errors.
var (
	ErrAssertionActiveOrResolved = errors.New("assertion active or market resolved")
	ErrMarketNotResolved         = errors.New("market not resolved")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrInsufficientAllowance     = errors.New("insufficient allowance")
	ErrInsufficientLiquidity     = errors.New("insufficient liquidity")
	ErrSlippageExceeded          = errors.New("slippage exceeded")
	ErrPoolNotActive             = errors.New("pool not active")
	ErrNoPosition                = errors.New("no position for user and market")
	ErrPoolCreationFailed        = errors.New("pool creation failed")
	ErrLivenessNotExpired        = errors.New("assertion liveness has not expired")
	ErrAssertionSettled          = errors.New("assertion already settled")
	ErrPaymentShortfall          = errors.New("swap payment shortfall")
)

// ErrorClass groups errors by how a caller should react to them.
type ErrorClass int

const (
	ClassInternal ErrorClass = iota
	ClassValidation
	ClassNotFound
	ClassAuthorization
	ClassState
)

func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassNotFound:
		return "not_found"
	case ClassAuthorization:
		return "authorization"
	case ClassState:
		return "state"
	default:
		return "internal"
	}
}

var errorClasses = []struct {
	err   error
	class ErrorClass
}{
	{ErrNotFound, ClassNotFound},
	{ErrMarketDoesNotExist, ClassNotFound},
	{ErrNoPosition, ClassNotFound},
	{ErrUnknownAssertion, ClassNotFound},

	{ErrMarketAlreadyExists, ClassValidation},
	{ErrEmptyOutcome, ClassValidation},
	{ErrOutcomesIdentical, ClassValidation},
	{ErrEmptyDescription, ClassValidation},
	{ErrInvalidAssertionOutcome, ClassValidation},
	{ErrTokensIdentical, ClassValidation},
	{ErrPoolAlreadyExists, ClassValidation},
	{ErrInvalidAmount, ClassValidation},
	{ErrInvalidFeeTier, ClassValidation},
	{ErrInvalidRange, ClassValidation},
	{ErrAlreadyExists, ClassValidation},

	{ErrNotAuthorized, ClassAuthorization},
	{ErrNotWhitelisted, ClassAuthorization},
	{ErrNotOwner, ClassAuthorization},
	{ErrUnknownCallbackSource, ClassAuthorization},
	{ErrInvalidSignature, ClassAuthorization},
	{ErrUnauthorized, ClassAuthorization},

	{ErrAssertionActiveOrResolved, ClassState},
	{ErrMarketNotResolved, ClassState},
	{ErrInsufficientBalance, ClassState},
	{ErrInsufficientAllowance, ClassState},
	{ErrInsufficientLiquidity, ClassState},
	{ErrSlippageExceeded, ClassState},
	{ErrPoolNotActive, ClassState},
	{ErrPoolCreationFailed, ClassState},
	{ErrLivenessNotExpired, ClassState},
	{ErrAssertionSettled, ClassState},
	{ErrPaymentShortfall, ClassState},
	{ErrLockHeld, ClassState},
	{ErrRateLimited, ClassState},
}

// Classify reports the class of err by walking its wrap chain.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassInternal
	}
	for _, ec := range errorClasses {
		if errors.Is(err, ec.err) {
			return ec.class
		}
	}
	return ClassInternal
}
