package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/web3-authn/threshold-relayer/internal/authorize"
	"github.com/web3-authn/threshold-relayer/internal/config"
	"github.com/web3-authn/threshold-relayer/internal/frost"
	"github.com/web3-authn/threshold-relayer/internal/grant"
	"github.com/web3-authn/threshold-relayer/internal/keygen"
	"github.com/web3-authn/threshold-relayer/internal/keystrategy"
	"github.com/web3-authn/threshold-relayer/internal/nearclient"
	"github.com/web3-authn/threshold-relayer/internal/scalarfield"
	"github.com/web3-authn/threshold-relayer/internal/session"
	"github.com/web3-authn/threshold-relayer/internal/signing"
	"github.com/web3-authn/threshold-relayer/internal/store"
	"github.com/web3-authn/threshold-relayer/internal/store/memory"
	"github.com/web3-authn/threshold-relayer/internal/webauthnverify"
)

type stubNear struct{ keys []string }

func (s stubNear) ViewAccessKeyList(ctx context.Context, accountID string) (nearclient.ViewAccessKeyListResult, error) {
	out := nearclient.ViewAccessKeyListResult{}
	for _, k := range s.keys {
		out.Keys = append(out.Keys, nearclient.AccessKey{PublicKey: k})
	}
	return out, nil
}
func (stubNear) TxStatus(ctx context.Context, txHash, senderAccountID string) (nearclient.FinalExecutionOutcome, error) {
	return nearclient.FinalExecutionOutcome{}, nil
}

type okVerifier struct{}

func (okVerifier) VerifyAuthenticationResponse(ctx context.Context, req webauthnverify.AuthenticationRequest) (webauthnverify.Result, error) {
	return webauthnverify.Result{Success: true, Verified: true}, nil
}

func newTestRouter(t *testing.T, role config.NodeRole) (*handlersHarness, func()) {
	t.Helper()
	ks := memory.NewKeyStore()
	strategy, err := keystrategy.New(keystrategy.Config{
		ShareMode:            keystrategy.ShareModeKV,
		ClientParticipantID:  1,
		RelayerParticipantID: 2,
	}, ks)
	require.NoError(t, err)

	mpcSessions := memory.NewMpcSessionStore(time.Now)
	authSessions := memory.NewAuthSessionStore(time.Now)
	grantCodec := grant.NewCodec([]byte("test-shared-secret-32-bytes-long"))

	keygenSvc := keygen.New(strategy, ks, stubNear{}, okVerifier{}, keystrategy.ShareModeKV, 1, 2, "")
	authorizeSvc := authorize.New(strategy, stubNear{}, okVerifier{}, mpcSessions, 1, 2)
	sessionSvc := session.New(strategy, stubNear{}, okVerifier{}, authSessions, mpcSessions, 1, 2)
	signingSvc := signing.New(strategy, mpcSessions, grantCodec, nil, 1, 2, nil, 0)

	router := NewRouter(Services{
		Keygen:    keygenSvc,
		Authorize: authorizeSvc,
		Session:   sessionSvc,
		Signing:   signingSvc,
		NodeRole:  role,
	})
	srv := httptest.NewServer(router)
	return &handlersHarness{
		t: t, srv: srv, ks: ks, strategy: strategy,
		mpcSessions: mpcSessions, stubNear: stubNear{},
	}, srv.Close
}

type handlersHarness struct {
	t           *testing.T
	srv         *httptest.Server
	ks          store.KeyStore
	strategy    *keystrategy.Strategy
	mpcSessions store.MpcSessionStore
	stubNear    stubNear
}

func (h *handlersHarness) post(path string, body interface{}) (*http.Response, map[string]interface{}) {
	h.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(h.t, err)
	resp, err := http.Post(h.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(h.t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestSignInitFinalize_OverHTTP_ProducesValidSignature(t *testing.T) {
	h, closeFn := newTestRouter(t, config.NodeRoleCoordinator)
	defer closeFn()

	clientShareScalar := randomScalar(t)
	clientVerifyingShare := scalarfield.BasePointMul(clientShareScalar).EncodePoint()
	material, err := h.strategy.KeygenFromClientVerifyingShare("alice.testnet", "example.localhost", clientVerifyingShare)
	require.NoError(t, err)
	require.NoError(t, h.ks.Put(context.Background(), material.RelayerKeyID, material))

	signingDigest := make([]byte, 32)
	_, err = rand.Read(signingDigest)
	require.NoError(t, err)
	mpcSessionID := "mpc-http-1"
	require.NoError(t, h.mpcSessions.PutMpc(context.Background(), mpcSessionID, store.MpcSession{
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

	resp, body := h.post("/threshold-ed25519/sign/init", map[string]interface{}{
		"mpcSessionId":      mpcSessionID,
		"relayerKeyId":      material.RelayerKeyID,
		"nearAccountId":     "alice.testnet",
		"signingDigestB64u": base64.RawURLEncoding.EncodeToString(signingDigest),
		"clientCommitments": map[string]string{
			"hiding":  base64.RawURLEncoding.EncodeToString(clientCommitment.Hiding.EncodePoint()),
			"binding": base64.RawURLEncoding.EncodeToString(clientCommitment.Binding.EncodePoint()),
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["ok"])
	signingSessionID, _ := body["signingSessionId"].(string)
	require.NotEmpty(t, signingSessionID)

	commitmentsByID := body["commitmentsById"].(map[string]interface{})
	serverWire := commitmentsByID["server"].(map[string]interface{})
	serverHiding, err := base64.RawURLEncoding.DecodeString(serverWire["hiding"].(string))
	require.NoError(t, err)
	serverBinding, err := base64.RawURLEncoding.DecodeString(serverWire["binding"].(string))
	require.NoError(t, err)
	serverCommitment, err := toFrostCommitmentForTest(serverHiding, serverBinding)
	require.NoError(t, err)

	commitmentsMap := map[int]frost.Commitment{1: clientCommitment, 2: serverCommitment}
	R, bindingFactors, err := frost.GroupCommitment(signingDigest, commitmentsMap)
	require.NoError(t, err)
	challenge, err := frost.Challenge(R, material.PublicKey, signingDigest)
	require.NoError(t, err)
	one, err := scalarfield.U16ToScalarBytes(1)
	require.NoError(t, err)
	zClient, err := frost.PartialSign(clientNonce, bindingFactors[1], challenge, one, clientShareScalar)
	require.NoError(t, err)

	resp2, body2 := h.post("/threshold-ed25519/sign/finalize", map[string]interface{}{
		"signingSessionId":         signingSessionID,
		"relayerKeyId":             material.RelayerKeyID,
		"nearAccountId":            "alice.testnet",
		"signingDigestB64u":        base64.RawURLEncoding.EncodeToString(signingDigest),
		"clientSignatureShareB64u": base64.RawURLEncoding.EncodeToString(zClient.EncodeScalar()),
	})
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	sigB64, _ := body2["signature"].(string)
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	require.NoError(t, err)
	require.True(t, ed25519.Verify(ed25519.PublicKey(material.PublicKey), signingDigest, sig))
}

func TestSignInit_RefusedOnParticipantNode(t *testing.T) {
	h, closeFn := newTestRouter(t, config.NodeRoleParticipant)
	defer closeFn()

	resp, body := h.post("/threshold-ed25519/sign/init", map[string]interface{}{})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, false, body["ok"])
	require.Equal(t, "not_found", body["code"])
}

func TestSignInit_InvalidBody_ReturnsEnvelopeError(t *testing.T) {
	h, closeFn := newTestRouter(t, config.NodeRoleCoordinator)
	defer closeFn()

	resp, err := http.Post(h.srv.URL+"/threshold-ed25519/sign/init", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, false, body["ok"])
	require.Equal(t, "invalid_body", body["code"])
}

func randomScalar(t *testing.T) scalarfield.Scalar {
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

func toFrostCommitmentForTest(hiding, binding []byte) (frost.Commitment, error) {
	h, err := scalarfield.DecodePoint(hiding)
	if err != nil {
		return frost.Commitment{}, err
	}
	b, err := scalarfield.DecodePoint(binding)
	if err != nil {
		return frost.Commitment{}, err
	}
	return frost.Commitment{Hiding: h, Binding: b}, nil
}
