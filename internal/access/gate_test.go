package access_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcomeledger/internal/access"
	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

func TestGate(t *testing.T) {
	owner := common.HexToAddress("0x01")
	alice := common.HexToAddress("0x02")
	bob := common.HexToAddress("0x03")

	g := access.NewGate(owner, []common.Address{alice})
	assert.True(t, g.Allowed(owner))
	assert.True(t, g.Allowed(alice))
	assert.ErrorIs(t, g.Check(bob), domain.ErrNotWhitelisted)

	assert.ErrorIs(t, g.Add(alice, bob), domain.ErrNotOwner)
	require.NoError(t, g.Add(owner, bob))
	assert.True(t, g.Allowed(bob))

	require.NoError(t, g.Remove(owner, alice))
	assert.False(t, g.Allowed(alice))
	assert.Equal(t, []common.Address{bob}, g.List())
}

func TestNilGateAllowsEveryone(t *testing.T) {
	var g *access.Gate
	assert.True(t, g.Allowed(common.HexToAddress("0x09")))
	assert.NoError(t, g.Check(common.HexToAddress("0x09")))
}
