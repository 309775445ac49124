package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/outcomeledger/internal/crypto"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// SignedPublisher is registered with the oracle as the ledger's callback
// recipient. It signs each callback and appends it to the callback stream,
// so the ledger only ever sees verified envelopes.
type SignedPublisher struct {
	bus    domain.SignalBus
	signer *crypto.CallbackSigner
	logger *slog.Logger
}

// NewSignedPublisher creates a SignedPublisher.
func NewSignedPublisher(bus domain.SignalBus, signer *crypto.CallbackSigner, logger *slog.Logger) *SignedPublisher {
	return &SignedPublisher{bus: bus, signer: signer, logger: logger.With(slog.String("component", "callback_publisher"))}
}

func (p *SignedPublisher) HandleResolution(ctx context.Context, msg domain.ResolutionMessage) error {
	env, err := p.signer.SignResolution(msg.AssertionID, msg.Truthful)
	if err != nil {
		return err
	}
	return p.append(ctx, env)
}

func (p *SignedPublisher) HandleDispute(ctx context.Context, msg domain.DisputeMessage) error {
	env, err := p.signer.SignDispute(msg.AssertionID)
	if err != nil {
		return err
	}
	return p.append(ctx, env)
}

func (p *SignedPublisher) append(ctx context.Context, env crypto.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("feed: marshal envelope: %w", err)
	}
	if err := p.bus.StreamAppend(ctx, domain.StreamOracleCallbacks, data); err != nil {
		return err
	}
	p.logger.Debug("callback published", slog.String("kind", env.Kind), slog.String("assertion", env.AssertionID.Hex()))
	return nil
}

var _ domain.ResolutionHandler = (*SignedPublisher)(nil)
