package keystrategy

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/web3-authn/threshold-relayer/internal/scalarfield"
	"github.com/web3-authn/threshold-relayer/internal/store/memory"
)

func randomPoint(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 32)
	for {
		_, err := rand.Read(buf)
		require.NoError(t, err)
		buf[31] &= 0x0f
		s, err := scalarfield.DecodeScalar(buf)
		if err != nil || s.IsZero() {
			continue
		}
		return scalarfield.BasePointMul(s).EncodePoint()
	}
}

func derivedConfig(masterSecret []byte) Config {
	return Config{
		ShareMode:            ShareModeDerived,
		MasterSecret:         masterSecret,
		ClientParticipantID:  1,
		RelayerParticipantID: 2,
	}
}

func TestKeygen_DerivedMode_DeterministicAcrossCalls(t *testing.T) {
	masterSecret := make([]byte, 32)
	for i := range masterSecret {
		masterSecret[i] = 0x11
	}
	strategy, err := New(derivedConfig(masterSecret), memory.NewKeyStore())
	require.NoError(t, err)

	clientShare := randomPoint(t)
	m1, err := strategy.KeygenFromClientVerifyingShare("alice.testnet", "example.localhost", clientShare)
	require.NoError(t, err)
	m2, err := strategy.KeygenFromClientVerifyingShare("alice.testnet", "example.localhost", clientShare)
	require.NoError(t, err)
	require.Equal(t, m1.PublicKey, m2.PublicKey)
	require.Equal(t, m1.RelayerKeyID, m2.RelayerKeyID)

	m3, err := strategy.KeygenFromClientVerifyingShare("alice.testnet", "different.localhost", clientShare)
	require.NoError(t, err)
	require.NotEqual(t, m1.PublicKey, m3.PublicKey)
}

func TestResolveKeyMaterial_DerivedMode_RejectsMismatchedRelayerKeyID(t *testing.T) {
	masterSecret := make([]byte, 32)
	strategy, err := New(derivedConfig(masterSecret), memory.NewKeyStore())
	require.NoError(t, err)

	clientShare := randomPoint(t)
	_, err = strategy.ResolveKeyMaterial(context.Background(), "ed25519:doesNotExist", "alice.testnet", "example.localhost", clientShare)
	require.Error(t, err)
}

func TestKeygen_KVMode_PersistsRandomShare(t *testing.T) {
	ks := memory.NewKeyStore()
	strategy, err := New(Config{ShareMode: ShareModeKV, ClientParticipantID: 1, RelayerParticipantID: 2}, ks)
	require.NoError(t, err)

	clientShare := randomPoint(t)
	material, err := strategy.KeygenFromClientVerifyingShare("alice.testnet", "example.localhost", clientShare)
	require.NoError(t, err)
	require.NotEmpty(t, material.ServerSigningShare)

	require.NoError(t, ks.Put(context.Background(), material.RelayerKeyID, material))
	resolved, err := strategy.ResolveKeyMaterial(context.Background(), material.RelayerKeyID, "alice.testnet", "example.localhost", clientShare)
	require.NoError(t, err)
	require.Equal(t, material, resolved)
}

func TestNew_RejectsSameParticipantIDs(t *testing.T) {
	_, err := New(Config{ShareMode: ShareModeKV, ClientParticipantID: 1, RelayerParticipantID: 1}, memory.NewKeyStore())
	require.Error(t, err)
}
