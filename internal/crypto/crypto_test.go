package crypto_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomeledger/internal/crypto"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

// Well-known development key (hardhat account #0).
const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var devAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func TestEnvelope_RecoversSigner(t *testing.T) {
	s, err := crypto.NewCallbackSigner(devKey, 31337)
	require.NoError(t, err)
	assert.Equal(t, devAddr, s.Address())

	v := crypto.NewVerifier(31337, time.Minute)
	id := common.HexToHash("0xabc")

	env, err := s.SignResolution(id, true)
	require.NoError(t, err)
	got, err := v.Recover(env)
	require.NoError(t, err)
	assert.Equal(t, devAddr, got)

	msg := crypto.ResolutionMessage(got, env)
	assert.Equal(t, domain.ResolutionMessage{Sender: devAddr, AssertionID: id, Truthful: true}, msg)

	dispute, err := s.SignDispute(id)
	require.NoError(t, err)
	got, err = v.Recover(dispute)
	require.NoError(t, err)
	assert.Equal(t, devAddr, got)
}

func TestEnvelope_TamperingChangesSender(t *testing.T) {
	s, err := crypto.NewCallbackSigner(devKey, 31337)
	require.NoError(t, err)
	v := crypto.NewVerifier(31337, 0)

	env, err := s.SignResolution(common.HexToHash("0x01"), false)
	require.NoError(t, err)
	env.Truthful = true

	got, err := v.Recover(env)
	if err == nil {
		assert.NotEqual(t, devAddr, got)
	}

	other := crypto.NewVerifier(1, 0)
	env.Truthful = false
	got, err = other.Recover(env)
	if err == nil {
		assert.NotEqual(t, devAddr, got, "domain separator binds the chain id")
	}
}

func TestEnvelope_Rejects(t *testing.T) {
	s, err := crypto.NewCallbackSigner(devKey, 31337)
	require.NoError(t, err)
	v := crypto.NewVerifier(31337, time.Minute)

	env, err := s.SignResolution(common.HexToHash("0x01"), true)
	require.NoError(t, err)

	bad := env
	bad.Signature = "0x1234"
	_, err = v.Recover(bad)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	bad = env
	bad.Kind = "other"
	_, err = v.Recover(bad)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	v.SetClock(func() time.Time { return time.Unix(env.IssuedAt, 0).Add(2 * time.Minute) })
	_, err = v.Recover(env)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestKeyFileRoundTrip(t *testing.T) {
	blob, err := crypto.EncryptKey("0x"+devKey, "hunter2")
	require.NoError(t, err)

	got, err := crypto.DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, devKey, got)

	_, err = crypto.DecryptKey(blob, "wrong")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "oracle.key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))
	s, err := crypto.LoadCallbackSigner(crypto.KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"}, 1)
	require.NoError(t, err)
	assert.Equal(t, devAddr, s.Address())

	_, err = crypto.LoadKey(crypto.KeyConfig{})
	assert.Error(t, err)
}

func TestRequestMAC(t *testing.T) {
	m := crypto.RequestMAC{Secret: "relay-secret", MaxSkew: 30 * time.Second}
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"kind":"resolution"}`)

	h := m.Headers("POST", "/api/oracle/callback", body, now.Unix())
	require.NoError(t, m.Verify("POST", "/api/oracle/callback", body, h[crypto.HeaderTimestamp], h[crypto.HeaderSignature], now))

	err := m.Verify("POST", "/api/oracle/callback", []byte(`{}`), h[crypto.HeaderTimestamp], h[crypto.HeaderSignature], now)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	err = m.Verify("POST", "/api/oracle/callback", body, h[crypto.HeaderTimestamp], h[crypto.HeaderSignature], now.Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	assert.NotContains(t, m.String(), "relay-secret")
}
