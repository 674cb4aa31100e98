package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/web3-authn/threshold-relayer/internal/frost"
	"github.com/web3-authn/threshold-relayer/internal/grant"
	"github.com/web3-authn/threshold-relayer/internal/keystrategy"
	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/scalarfield"
	"github.com/web3-authn/threshold-relayer/internal/store"
	"github.com/web3-authn/threshold-relayer/internal/store/memory"
)

func randomNonzeroScalarForTest(t *testing.T) scalarfield.Scalar {
	t.Helper()
	for {
		buf := make([]byte, scalarfield.ScalarSize)
		_, err := rand.Read(buf)
		require.NoError(t, err)
		buf[31] &= 0x0f
		s, err := scalarfield.DecodeScalar(buf)
		if err != nil || s.IsZero() {
			continue
		}
		return s
	}
}

func newSigningDigest(t *testing.T) []byte {
	t.Helper()
	d := make([]byte, 32)
	_, err := rand.Read(d)
	require.NoError(t, err)
	return d
}

func TestLocalMode_SignInitThenFinalize_ProducesValidSignature(t *testing.T) {
	ks := memory.NewKeyStore()
	strategy, err := keystrategy.New(keystrategy.Config{
		ShareMode:            keystrategy.ShareModeKV,
		ClientParticipantID:  1,
		RelayerParticipantID: 2,
	}, ks)
	require.NoError(t, err)

	clientShareScalar := randomNonzeroScalarForTest(t)
	clientVerifyingShare := scalarfield.BasePointMul(clientShareScalar).EncodePoint()

	material, err := strategy.KeygenFromClientVerifyingShare("alice.testnet", "example.localhost", clientVerifyingShare)
	require.NoError(t, err)
	require.NoError(t, ks.Put(context.Background(), material.RelayerKeyID, material))

	mpcSessions := memory.NewMpcSessionStore(time.Now)
	grantCodec := grant.NewCodec([]byte("test-shared-secret-32-bytes-long"))
	svc := New(strategy, mpcSessions, grantCodec, nil, 1, 2, nil, 0)

	signingDigest := newSigningDigest(t)
	mpcSessionID := "mpc-1"
	require.NoError(t, mpcSessions.PutMpc(context.Background(), mpcSessionID, store.MpcSession{
		ExpiresAtMs:          time.Now().Add(60 * time.Second).UnixMilli(),
		RelayerKeyID:         material.RelayerKeyID,
		SigningDigest:        signingDigest,
		UserID:               "alice.testnet",
		RpID:                 "example.localhost",
		ClientVerifyingShare: clientVerifyingShare,
		ParticipantIDs:       []int{1, 2},
	}, 60*time.Second))

	clientNonce, clientCommitment, err := frost.Commit()
	require.NoError(t, err)

	initResult, err := svc.Init(context.Background(), InitInput{
		MpcSessionID:  mpcSessionID,
		RelayerKeyID:  material.RelayerKeyID,
		NearAccountID: "alice.testnet",
		SigningDigest: signingDigest,
		ClientCommitment: store.Commitments{
			Hiding:  clientCommitment.Hiding.EncodePoint(),
			Binding: clientCommitment.Binding.EncodePoint(),
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, initResult.SigningSessionID)

	serverCommitment, err := toFrostCommitment(initResult.CommitmentsByID[roleServer])
	require.NoError(t, err)
	commitmentsByID := map[int]frost.Commitment{1: clientCommitment, 2: serverCommitment}

	R, bindingFactors, err := frost.GroupCommitment(signingDigest, commitmentsByID)
	require.NoError(t, err)
	challenge, err := frost.Challenge(R, material.PublicKey, signingDigest)
	require.NoError(t, err)
	one, err := scalarfield.U16ToScalarBytes(1)
	require.NoError(t, err)
	zClient, err := frost.PartialSign(clientNonce, bindingFactors[1], challenge, one, clientShareScalar)
	require.NoError(t, err)

	finalizeResult, err := svc.Finalize(context.Background(), FinalizeInput{
		SigningSessionID: initResult.SigningSessionID,
		RelayerKeyID:     material.RelayerKeyID,
		NearAccountID:    "alice.testnet",
		SigningDigest:    signingDigest,
		ClientShare:      zClient.EncodeScalar(),
	})
	require.NoError(t, err)
	require.True(t, ed25519.Verify(ed25519.PublicKey(material.PublicKey), signingDigest, finalizeResult.Signature))
}

func TestSignInit_RejectsAlreadyConsumedMpcSession(t *testing.T) {
	ks := memory.NewKeyStore()
	strategy, err := keystrategy.New(keystrategy.Config{
		ShareMode:            keystrategy.ShareModeKV,
		ClientParticipantID:  1,
		RelayerParticipantID: 2,
	}, ks)
	require.NoError(t, err)
	clientShareScalar := randomNonzeroScalarForTest(t)
	clientVerifyingShare := scalarfield.BasePointMul(clientShareScalar).EncodePoint()
	material, err := strategy.KeygenFromClientVerifyingShare("alice.testnet", "example.localhost", clientVerifyingShare)
	require.NoError(t, err)
	require.NoError(t, ks.Put(context.Background(), material.RelayerKeyID, material))

	mpcSessions := memory.NewMpcSessionStore(time.Now)
	grantCodec := grant.NewCodec([]byte("test-shared-secret-32-bytes-long"))
	svc := New(strategy, mpcSessions, grantCodec, nil, 1, 2, nil, 0)

	signingDigest := newSigningDigest(t)
	mpcSessionID := "mpc-replay"
	require.NoError(t, mpcSessions.PutMpc(context.Background(), mpcSessionID, store.MpcSession{
		ExpiresAtMs:          time.Now().Add(60 * time.Second).UnixMilli(),
		RelayerKeyID:         material.RelayerKeyID,
		SigningDigest:        signingDigest,
		UserID:               "alice.testnet",
		RpID:                 "example.localhost",
		ClientVerifyingShare: clientVerifyingShare,
		ParticipantIDs:       []int{1, 2},
	}, 60*time.Second))

	_, clientCommitment, err := frost.Commit()
	require.NoError(t, err)
	in := InitInput{
		MpcSessionID:  mpcSessionID,
		RelayerKeyID:  material.RelayerKeyID,
		NearAccountID: "alice.testnet",
		SigningDigest: signingDigest,
		ClientCommitment: store.Commitments{
			Hiding:  clientCommitment.Hiding.EncodePoint(),
			Binding: clientCommitment.Binding.EncodePoint(),
		},
	}
	_, err = svc.Init(context.Background(), in)
	require.NoError(t, err)

	_, err = svc.Init(context.Background(), in)
	require.Error(t, err)
	rerrVal, ok := rerr.As(err)
	require.True(t, ok)
	require.Equal(t, rerr.CodeUnauthorized, rerrVal.Code)
}

// stubCosignerClient lets a subset of configured cosigner base URLs always fail
// CosignInit, simulating unreachable/timed-out peers for the quorum test.
type stubCosignerClient struct {
	failInit map[string]bool
}

func (c stubCosignerClient) CosignInit(ctx context.Context, baseURL string, req CosignInitRequest) (CosignInitResponse, error) {
	if c.failInit[baseURL] {
		return CosignInitResponse{}, rerr.New(rerr.CodeUnavailable, "simulated peer timeout")
	}
	_, commitment, err := frost.Commit()
	if err != nil {
		return CosignInitResponse{}, err
	}
	return CosignInitResponse{
		PeerSigningSessionID: "peer-session-" + baseURL,
		Commitment: store.Commitments{
			Hiding:  commitment.Hiding.EncodePoint(),
			Binding: commitment.Binding.EncodePoint(),
		},
	}, nil
}

func (c stubCosignerClient) CosignFinalize(ctx context.Context, baseURL string, req CosignFinalizeRequest) (CosignFinalizeResponse, error) {
	return CosignFinalizeResponse{}, rerr.New(rerr.CodeInternal, "not used in this test")
}

func TestCosignerMode_QuorumFailure_ReturnsUnavailable(t *testing.T) {
	ks := memory.NewKeyStore()
	strategy, err := keystrategy.New(keystrategy.Config{
		ShareMode:            keystrategy.ShareModeKV,
		ClientParticipantID:  1,
		RelayerParticipantID: 2,
	}, ks)
	require.NoError(t, err)
	clientShareScalar := randomNonzeroScalarForTest(t)
	clientVerifyingShare := scalarfield.BasePointMul(clientShareScalar).EncodePoint()
	material, err := strategy.KeygenFromClientVerifyingShare("alice.testnet", "example.localhost", clientVerifyingShare)
	require.NoError(t, err)
	require.NoError(t, ks.Put(context.Background(), material.RelayerKeyID, material))

	mpcSessions := memory.NewMpcSessionStore(time.Now)
	grantCodec := grant.NewCodec([]byte("test-shared-secret-32-bytes-long"))
	peerClient := stubCosignerClient{failInit: map[string]bool{"https://cosigner-2.example": true}}

	svc := New(strategy, mpcSessions, grantCodec, peerClient, 1, 2, []CosignerEndpoint{
		{CosignerID: 1, RelayerURL: "https://cosigner-1.example"},
		{CosignerID: 2, RelayerURL: "https://cosigner-2.example"},
		{CosignerID: 3, RelayerURL: "https://cosigner-3.example"},
	}, 2)

	signingDigest := newSigningDigest(t)
	mpcSessionID := "mpc-quorum"
	require.NoError(t, mpcSessions.PutMpc(context.Background(), mpcSessionID, store.MpcSession{
		ExpiresAtMs:          time.Now().Add(60 * time.Second).UnixMilli(),
		RelayerKeyID:         material.RelayerKeyID,
		SigningDigest:        signingDigest,
		UserID:               "alice.testnet",
		RpID:                 "example.localhost",
		ClientVerifyingShare: clientVerifyingShare,
		ParticipantIDs:       []int{1, 2},
	}, 60*time.Second))

	_, clientCommitment, err := frost.Commit()
	require.NoError(t, err)

	_, err = svc.Init(context.Background(), InitInput{
		MpcSessionID:  mpcSessionID,
		RelayerKeyID:  material.RelayerKeyID,
		NearAccountID: "alice.testnet",
		SigningDigest: signingDigest,
		ClientCommitment: store.Commitments{
			Hiding:  clientCommitment.Hiding.EncodePoint(),
			Binding: clientCommitment.Binding.EncodePoint(),
		},
	})
	require.Error(t, err)
	rerrVal, ok := rerr.As(err)
	require.True(t, ok)
	require.Equal(t, rerr.CodeUnavailable, rerrVal.Code)
	require.Contains(t, rerrVal.Message, "Need at least 2 relayer cosigners; got 1")
}
