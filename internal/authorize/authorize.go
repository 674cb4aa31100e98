// Package authorize implements AuthorizeService: one-shot authorization
// that verifies a signing intent against a WebAuthn assertion and an
// on-chain access-key scope check, then mints a single-use MpcSession.
package authorize

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/web3-authn/threshold-relayer/internal/keystrategy"
	"github.com/web3-authn/threshold-relayer/internal/log"
	"github.com/web3-authn/threshold-relayer/internal/nearclient"
	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/store"
	"github.com/web3-authn/threshold-relayer/internal/validate"
	"github.com/web3-authn/threshold-relayer/internal/webauthnverify"
)

var logger = log.New("authorize")

// MpcSessionTTL is the single-use session lifetime: 60 seconds per the
// session lifecycle invariants.
const MpcSessionTTL = 60 * time.Second

// VRFData is the VRF-bound intent context carried by the authorize
// request.
type VRFData struct {
	UserID         string
	RpID           string
	IntentDigest32 []byte
}

// Input is one authorize request.
type Input struct {
	RelayerKeyID           string
	Purpose                store.Purpose
	ClientVerifyingShare   []byte
	VRFData                VRFData
	WebAuthnAuthentication []byte
	SigningPayload         validate.Payload
	SigningDigest32        []byte
}

// Result is what a successful authorize call returns.
type Result struct {
	MpcSessionID string
	ExpiresAtMs  int64
}

// Service wires AuthorizeService's collaborators.
type Service struct {
	strategy             *keystrategy.Strategy
	nearClient            nearclient.Client
	verifier              webauthnverify.Verifier
	mpcSessions           store.MpcSessionStore
	clientParticipantID  int
	relayerParticipantID int
}

func New(strategy *keystrategy.Strategy, nearClient nearclient.Client, verifier webauthnverify.Verifier, mpcSessions store.MpcSessionStore, clientParticipantID, relayerParticipantID int) *Service {
	return &Service{
		strategy:             strategy,
		nearClient:           nearClient,
		verifier:             verifier,
		mpcSessions:          mpcSessions,
		clientParticipantID:  clientParticipantID,
		relayerParticipantID: relayerParticipantID,
	}
}

func (s *Service) participantIDs() []int {
	ids := []int{s.clientParticipantID, s.relayerParticipantID}
	sort.Ints(ids)
	return ids
}

// Authorize runs the full fail-fast AuthorizeService pipeline.
func (s *Service) Authorize(ctx context.Context, in Input) (Result, error) {
	material, err := s.strategy.ResolveKeyMaterial(ctx, in.RelayerKeyID, in.VRFData.UserID, in.VRFData.RpID, in.ClientVerifyingShare)
	if err != nil {
		return Result{}, err
	}

	intentDigest, err := validate.ComputeIntentDigest(in.SigningPayload, in.VRFData.UserID)
	if err != nil {
		return Result{}, err
	}
	if !bytesEqual(intentDigest[:], in.VRFData.IntentDigest32) {
		return Result{}, rerr.New(rerr.CodeIntentDigestMismatch, "recomputed intent digest does not match vrf_data.intent_digest_32")
	}

	signingDigests, err := validate.ComputeSigningDigests(in.SigningPayload)
	if err != nil {
		return Result{}, err
	}
	if !digestIn(in.SigningDigest32, signingDigests) {
		return Result{}, rerr.New(rerr.CodeSigningDigestMismatch, "signing_digest_32 is not derivable from the signing payload")
	}

	verifyResult, err := s.verifier.VerifyAuthenticationResponse(ctx, webauthnverify.AuthenticationRequest{
		RawAssertionJSON:  in.WebAuthnAuthentication,
		ExpectedRPID:      in.VRFData.RpID,
		ExpectedUserID:    in.VRFData.UserID,
		ExpectedChallenge: in.VRFData.IntentDigest32,
	})
	if err != nil {
		return Result{}, rerr.Wrap(rerr.CodeInternal, err, "webauthn verification request failed")
	}
	if !verifyResult.Success || !verifyResult.Verified {
		msg := verifyResult.Message
		if msg == "" {
			msg = "webauthn assertion was not verified"
		}
		return Result{}, rerr.New(rerr.CodeNotVerified, msg)
	}

	expectedSigner, hasExpected := validate.ExpectedSigningPublicKey(in.SigningPayload)
	if err := validate.EnsureRelayerKeyIsActiveAccessKey(ctx, s.nearClient, in.VRFData.UserID, material.RelayerKeyID, expectedSigner, hasExpected); err != nil {
		return Result{}, err
	}

	mpcSessionID := uuid.NewString()
	expiresAt := time.Now().Add(MpcSessionTTL)
	rec := store.MpcSession{
		ExpiresAtMs:          expiresAt.UnixMilli(),
		RelayerKeyID:         material.RelayerKeyID,
		Purpose:              in.Purpose,
		IntentDigest:         intentDigest[:],
		SigningDigest:        in.SigningDigest32,
		UserID:               in.VRFData.UserID,
		RpID:                 in.VRFData.RpID,
		ClientVerifyingShare: in.ClientVerifyingShare,
		ParticipantIDs:       s.participantIDs(),
	}
	if err := s.mpcSessions.PutMpc(ctx, mpcSessionID, rec, MpcSessionTTL); err != nil {
		return Result{}, rerr.Internal(err, "persist mpc session")
	}

	logger.Infof("authorize created mpcSessionId=%s relayerKeyId=%s", mpcSessionID, material.RelayerKeyID)
	return Result{MpcSessionID: mpcSessionID, ExpiresAtMs: expiresAt.UnixMilli()}, nil
}

func digestIn(target []byte, set [][32]byte) bool {
	for _, d := range set {
		if bytesEqual(target, d[:]) {
			return true
		}
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
