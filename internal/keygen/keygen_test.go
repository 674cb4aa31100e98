package keygen

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/web3-authn/threshold-relayer/internal/canonical"
	"github.com/web3-authn/threshold-relayer/internal/keystrategy"
	"github.com/web3-authn/threshold-relayer/internal/nearclient"
	"github.com/web3-authn/threshold-relayer/internal/scalarfield"
	"github.com/web3-authn/threshold-relayer/internal/store/memory"
	"github.com/web3-authn/threshold-relayer/internal/webauthnverify"
)

type okVerifier struct{}

func (okVerifier) VerifyAuthenticationResponse(ctx context.Context, req webauthnverify.AuthenticationRequest) (webauthnverify.Result, error) {
	return webauthnverify.Result{Success: true, Verified: true}, nil
}

type stubNear struct{}

func (stubNear) ViewAccessKeyList(ctx context.Context, accountID string) (nearclient.ViewAccessKeyListResult, error) {
	return nearclient.ViewAccessKeyListResult{}, nil
}
func (stubNear) TxStatus(ctx context.Context, txHash, senderAccountID string) (nearclient.FinalExecutionOutcome, error) {
	return nearclient.FinalExecutionOutcome{}, nil
}

func randomClientShare(t *testing.T) []byte {
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

func TestKeygen_AssertionBoundPath_Succeeds(t *testing.T) {
	ks := memory.NewKeyStore()
	strategy, err := keystrategy.New(keystrategy.Config{
		ShareMode:            keystrategy.ShareModeKV,
		ClientParticipantID:  1,
		RelayerParticipantID: 2,
	}, ks)
	require.NoError(t, err)

	svc := New(strategy, ks, stubNear{}, okVerifier{}, keystrategy.ShareModeKV, 1, 2, "")

	clientShare := randomClientShare(t)
	digest, err := canonical.Digest(map[string]interface{}{
		"kind":                 "threshold_ed25519_keygen",
		"nearAccountId":        "alice.testnet",
		"rpId":                 "example.localhost",
		"clientVerifyingShare": base64.RawURLEncoding.EncodeToString(clientShare),
	})
	require.NoError(t, err)

	result, err := svc.Keygen(context.Background(), Input{
		VRFData: &VRFData{
			UserID:        "alice.testnet",
			RpID:          "example.localhost",
			IntentDigest32: digest[:],
		},
		WebAuthnAuthentication: []byte(`{}`),
		NearAccountID:          "alice.testnet",
		ClientVerifyingShare:   clientShare,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.RelayerKeyID)
	require.Equal(t, []int{1, 2}, result.ParticipantIDs)

	stored, ok, err := ks.Get(context.Background(), result.RelayerKeyID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, result.PublicKey, stored.PublicKey)
}

func TestKeygen_IntentDigestMismatch_Rejected(t *testing.T) {
	ks := memory.NewKeyStore()
	strategy, err := keystrategy.New(keystrategy.Config{ShareMode: keystrategy.ShareModeKV, ClientParticipantID: 1, RelayerParticipantID: 2}, ks)
	require.NoError(t, err)
	svc := New(strategy, ks, stubNear{}, okVerifier{}, keystrategy.ShareModeKV, 1, 2, "")

	_, err = svc.Keygen(context.Background(), Input{
		VRFData: &VRFData{
			UserID:        "alice.testnet",
			RpID:          "example.localhost",
			IntentDigest32: make([]byte, 32),
		},
		WebAuthnAuthentication: []byte(`{}`),
		NearAccountID:          "alice.testnet",
		ClientVerifyingShare:   randomClientShare(t),
	})
	require.Error(t, err)
}
