package session

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/web3-authn/threshold-relayer/internal/keystrategy"
	"github.com/web3-authn/threshold-relayer/internal/nearclient"
	"github.com/web3-authn/threshold-relayer/internal/scalarfield"
	"github.com/web3-authn/threshold-relayer/internal/store"
	"github.com/web3-authn/threshold-relayer/internal/store/memory"
	"github.com/web3-authn/threshold-relayer/internal/validate"
	"github.com/web3-authn/threshold-relayer/internal/webauthnverify"
)

type okVerifier struct{}

func (okVerifier) VerifyAuthenticationResponse(ctx context.Context, req webauthnverify.AuthenticationRequest) (webauthnverify.Result, error) {
	return webauthnverify.Result{Success: true, Verified: true}, nil
}

type stubNear struct {
	keys []string
}

func (s stubNear) ViewAccessKeyList(ctx context.Context, accountID string) (nearclient.ViewAccessKeyListResult, error) {
	result := nearclient.ViewAccessKeyListResult{}
	for _, k := range s.keys {
		result.Keys = append(result.Keys, nearclient.AccessKey{PublicKey: k})
	}
	return result, nil
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

// newBoundKey runs keygen against a fresh key store and persists the
// resulting material; each test then registers its relayerKeyId as an
// active access key on the stub NEAR client, the way a real registration
// flow would precede any session call.
func newBoundKey(t *testing.T, ks store.KeyStore, strategy *keystrategy.Strategy, accountID, rpID string) (store.KeyMaterial, []byte) {
	t.Helper()
	clientShare := randomClientShare(t)
	material, err := strategy.KeygenFromClientVerifyingShare(accountID, rpID, clientShare)
	require.NoError(t, err)
	require.NoError(t, ks.Put(context.Background(), material.RelayerKeyID, material))
	return material, clientShare
}

func newTestService(t *testing.T) (*Service, store.KeyStore, *keystrategy.Strategy) {
	t.Helper()
	ks := memory.NewKeyStore()
	strategy, err := keystrategy.New(keystrategy.Config{
		ShareMode:            keystrategy.ShareModeKV,
		ClientParticipantID:  1,
		RelayerParticipantID: 2,
	}, ks)
	require.NoError(t, err)

	authSessions := memory.NewAuthSessionStore(time.Now)
	mpcSessions := memory.NewMpcSessionStore(time.Now)
	svc := New(strategy, stubNear{}, okVerifier{}, authSessions, mpcSessions, 1, 2)
	return svc, ks, strategy
}

func TestSession_Create_ClampsPolicyBeforeDigestCheck(t *testing.T) {
	svc, ks, strategy := newTestService(t)
	material, clientShare := newBoundKey(t, ks, strategy, "alice.testnet", "example.localhost")
	svc.nearClient = stubNear{keys: []string{material.RelayerKeyID}}

	policy := Policy{
		Version:       "threshold_session_v1",
		NearAccountID: "alice.testnet",
		RpID:          "example.localhost",
		RelayerKeyID:  material.RelayerKeyID,
		SessionID:     "sess-1",
		TTLMs:         999999999, // far beyond MaxTTL; must be clamped before digest check
		RemainingUses: 500,       // far beyond MaxUses; must be clamped before digest check
	}
	clamped := clamp(policy)
	clamped.ParticipantIDs = []int{1, 2}
	require.Equal(t, MaxTTL.Milliseconds(), clamped.TTLMs)
	require.Equal(t, MaxUses, clamped.RemainingUses)

	digest, err := policyDigest(clamped)
	require.NoError(t, err)

	result, err := svc.Create(context.Background(), CreateInput{
		RelayerKeyID:           material.RelayerKeyID,
		ClientVerifyingShare:   clientShare,
		Policy:                 policy,
		VRFData:                VRFData{SessionPolicyDigest32: digest[:]},
		WebAuthnAuthentication: []byte(`{}`),
	})
	require.NoError(t, err)
	require.Equal(t, "sess-1", result.SessionID)
	require.Equal(t, MaxUses, result.RemainingUses)
}

func TestSession_Create_RejectsUnclampedDigest(t *testing.T) {
	svc, ks, strategy := newTestService(t)
	material, clientShare := newBoundKey(t, ks, strategy, "alice.testnet", "example.localhost")
	svc.nearClient = stubNear{keys: []string{material.RelayerKeyID}}

	policy := Policy{
		Version:       "threshold_session_v1",
		NearAccountID: "alice.testnet",
		RpID:          "example.localhost",
		RelayerKeyID:  material.RelayerKeyID,
		SessionID:     "sess-2",
		TTLMs:         999999999,
		RemainingUses: 500,
	}
	// Digest computed against the UNCLAMPED policy — this must be rejected
	// since the server only ever hashes the clamped policy.
	unclamped := policy
	unclamped.ParticipantIDs = []int{1, 2}
	badDigest, err := policyDigest(unclamped)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateInput{
		RelayerKeyID:           material.RelayerKeyID,
		ClientVerifyingShare:   clientShare,
		Policy:                 policy,
		VRFData:                VRFData{SessionPolicyDigest32: badDigest[:]},
		WebAuthnAuthentication: []byte(`{}`),
	})
	require.Error(t, err)
}

func TestSession_Create_IdempotentReplayReturnsExisting(t *testing.T) {
	svc, ks, strategy := newTestService(t)
	material, clientShare := newBoundKey(t, ks, strategy, "alice.testnet", "example.localhost")
	svc.nearClient = stubNear{keys: []string{material.RelayerKeyID}}

	policy := Policy{
		Version:       "threshold_session_v1",
		NearAccountID: "alice.testnet",
		RpID:          "example.localhost",
		RelayerKeyID:  material.RelayerKeyID,
		SessionID:     "sess-3",
		TTLMs:         60000,
		RemainingUses: 5,
	}
	clamped := clamp(policy)
	clamped.ParticipantIDs = []int{1, 2}
	digest, err := policyDigest(clamped)
	require.NoError(t, err)

	in := CreateInput{
		RelayerKeyID:           material.RelayerKeyID,
		ClientVerifyingShare:   clientShare,
		Policy:                 policy,
		VRFData:                VRFData{SessionPolicyDigest32: digest[:]},
		WebAuthnAuthentication: []byte(`{}`),
	}
	first, err := svc.Create(context.Background(), in)
	require.NoError(t, err)

	second, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)
}

func TestSession_AuthorizeWithSession_ConsumesUseAndMintsMpcSession(t *testing.T) {
	svc, ks, strategy := newTestService(t)
	material, clientShare := newBoundKey(t, ks, strategy, "alice.testnet", "example.localhost")
	svc.nearClient = stubNear{keys: []string{material.RelayerKeyID}}

	policy := Policy{
		Version:       "threshold_session_v1",
		NearAccountID: "alice.testnet",
		RpID:          "example.localhost",
		RelayerKeyID:  material.RelayerKeyID,
		SessionID:     "sess-4",
		TTLMs:         60000,
		RemainingUses: 1,
	}
	clamped := clamp(policy)
	clamped.ParticipantIDs = []int{1, 2}
	digest, err := policyDigest(clamped)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateInput{
		RelayerKeyID:           material.RelayerKeyID,
		ClientVerifyingShare:   clientShare,
		Policy:                 policy,
		VRFData:                VRFData{SessionPolicyDigest32: digest[:]},
		WebAuthnAuthentication: []byte(`{}`),
	})
	require.NoError(t, err)

	nep413 := validate.Payload{
		Purpose: store.PurposeNep413,
		Nep413: &validate.Nep413Request{
			Kind:          "nep413",
			NearAccountID: "alice.testnet",
			Recipient:     "example.localhost",
			Message:       "hello",
		},
	}
	signingDigests, err := validate.ComputeSigningDigests(nep413)
	require.NoError(t, err)

	mpcSessionID, expiresAt, err := svc.AuthorizeWithSession(context.Background(), AuthorizeWithSessionInput{
		SessionID:       "sess-4",
		UserID:          "alice.testnet",
		RelayerKeyID:    material.RelayerKeyID,
		RpID:            "example.localhost",
		ParticipantIDs:  []int{1, 2},
		SigningPayload:  nep413,
		SigningDigest32: signingDigests[0][:],
	})
	require.NoError(t, err)
	require.NotEmpty(t, mpcSessionID)
	require.Greater(t, expiresAt, time.Now().UnixMilli())

	// Budget was exactly 1; a second consumption must fail.
	_, _, err = svc.AuthorizeWithSession(context.Background(), AuthorizeWithSessionInput{
		SessionID:       "sess-4",
		UserID:          "alice.testnet",
		RelayerKeyID:    material.RelayerKeyID,
		RpID:            "example.localhost",
		ParticipantIDs:  []int{1, 2},
		SigningPayload:  nep413,
		SigningDigest32: signingDigests[0][:],
	})
	require.Error(t, err)
}
