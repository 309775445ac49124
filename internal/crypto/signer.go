package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// Envelope kinds.
const (
	KindResolution = "resolution"
	KindDispute    = "dispute"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Resolution(bytes32 assertionId,bool truthful,uint256 issuedAt)
	resolutionTypeHash = ethcrypto.Keccak256(
		[]byte("Resolution(bytes32 assertionId,bool truthful,uint256 issuedAt)"),
	)

	// Dispute(bytes32 assertionId,uint256 issuedAt)
	disputeTypeHash = ethcrypto.Keccak256(
		[]byte("Dispute(bytes32 assertionId,uint256 issuedAt)"),
	)
)

const (
	domainName    = "OutcomeLedgerOracle"
	domainVersion = "1"
)

// Envelope is an oracle callback in transit. The sender is never carried in
// the payload; it is recovered from Signature.
type Envelope struct {
	Kind        string      `json:"kind"`
	AssertionID common.Hash `json:"assertion_id"`
	Truthful    bool        `json:"truthful,omitempty"`
	IssuedAt    int64       `json:"issued_at"`
	Signature   string      `json:"signature"`
}

// CallbackSigner signs oracle callback envelopes with a secp256k1 key.
type CallbackSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
	now        func() time.Time
}

// NewCallbackSigner creates a signer from a hex-encoded private key.
func NewCallbackSigner(privateKeyHex string, chainID int64) (*CallbackSigner, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &CallbackSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(chainID),
		now:        time.Now,
	}, nil
}

// SetClock overrides the issue time source.
func (s *CallbackSigner) SetClock(now func() time.Time) { s.now = now }

// Address is the identity a verifier recovers from this signer's envelopes.
func (s *CallbackSigner) Address() common.Address { return s.address }

// SignResolution signs a resolution verdict.
func (s *CallbackSigner) SignResolution(assertionID common.Hash, truthful bool) (Envelope, error) {
	return s.sign(Envelope{Kind: KindResolution, AssertionID: assertionID, Truthful: truthful, IssuedAt: s.now().Unix()})
}

// SignDispute signs a dispute notification.
func (s *CallbackSigner) SignDispute(assertionID common.Hash) (Envelope, error) {
	return s.sign(Envelope{Kind: KindDispute, AssertionID: assertionID, IssuedAt: s.now().Unix()})
}

func (s *CallbackSigner) sign(env Envelope) (Envelope, error) {
	digest, err := envelopeDigest(s.domainSep, env)
	if err != nil {
		return Envelope{}, err
	}
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return Envelope{}, fmt.Errorf("crypto/signer: signing: %w: %w", domain.ErrSigningFailed, err)
	}
	// go-ethereum returns v in {0,1}; wallets expect {27,28}.
	sig[64] += 27
	env.Signature = "0x" + hex.EncodeToString(sig)
	return env, nil
}

// Verifier recovers the signer of callback envelopes.
type Verifier struct {
	domainSep []byte
	maxAge    time.Duration
	now       func() time.Time
}

// NewVerifier creates a Verifier for chainID. Envelopes older than maxAge
// are rejected; zero disables the check.
func NewVerifier(chainID int64, maxAge time.Duration) *Verifier {
	return &Verifier{domainSep: domainSeparator(chainID), maxAge: maxAge, now: time.Now}
}

// SetClock overrides the clock used for the age check.
func (v *Verifier) SetClock(now func() time.Time) { v.now = now }

// Recover returns the address that signed env.
func (v *Verifier) Recover(env Envelope) (common.Address, error) {
	if v.maxAge > 0 && v.now().Sub(time.Unix(env.IssuedAt, 0)) > v.maxAge {
		return common.Address{}, fmt.Errorf("crypto/signer: envelope issued at %d expired: %w", env.IssuedAt, domain.ErrInvalidSignature)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(env.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: malformed signature: %w", domain.ErrInvalidSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	digest, err := envelopeDigest(v.domainSep, env)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w: %w", domain.ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// ResolutionMessage converts a verified resolution envelope.
func ResolutionMessage(sender common.Address, env Envelope) domain.ResolutionMessage {
	return domain.ResolutionMessage{Sender: sender, AssertionID: env.AssertionID, Truthful: env.Truthful}
}

// DisputeMessage converts a verified dispute envelope.
func DisputeMessage(sender common.Address, env Envelope) domain.DisputeMessage {
	return domain.DisputeMessage{Sender: sender, AssertionID: env.AssertionID}
}

func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// envelopeDigest computes keccak256("\x19\x01" || domainSeparator || structHash).
func envelopeDigest(domainSep []byte, env Envelope) ([]byte, error) {
	var structHash []byte
	switch env.Kind {
	case KindResolution:
		truthful := big.NewInt(0)
		if env.Truthful {
			truthful = big.NewInt(1)
		}
		structHash = ethcrypto.Keccak256(
			concatBytes(
				resolutionTypeHash,
				env.AssertionID.Bytes(),
				bigIntTo32Bytes(truthful),
				bigIntTo32Bytes(big.NewInt(env.IssuedAt)),
			),
		)
	case KindDispute:
		structHash = ethcrypto.Keccak256(
			concatBytes(
				disputeTypeHash,
				env.AssertionID.Bytes(),
				bigIntTo32Bytes(big.NewInt(env.IssuedAt)),
			),
		)
	default:
		return nil, fmt.Errorf("crypto/signer: unknown envelope kind %q: %w", env.Kind, domain.ErrInvalidSignature)
	}
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash)), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
