// Package session implements SessionService: multi-use authorization
// sessions scoped to a clamped policy digest, plus authorize-with-session
// consumption that spends one use to mint a single-use MpcSession.
package session

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/web3-authn/threshold-relayer/internal/canonical"
	"github.com/web3-authn/threshold-relayer/internal/keystrategy"
	"github.com/web3-authn/threshold-relayer/internal/log"
	"github.com/web3-authn/threshold-relayer/internal/nearclient"
	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/store"
	"github.com/web3-authn/threshold-relayer/internal/validate"
	"github.com/web3-authn/threshold-relayer/internal/webauthnverify"
)

var logger = log.New("session")

const (
	// MaxTTL and MaxUses are the server-side clamps applied before the
	// policy digest is recomputed and compared — spec's clamping must
	// happen before the digest check, not after.
	MaxTTL  = 10 * time.Minute
	MaxUses = 20

	mpcSessionTTL = 60 * time.Second
)

// Policy is the client-proposed session policy; TTLMs and RemainingUses
// are clamped server-side before use.
type Policy struct {
	Version        string
	NearAccountID  string
	RpID           string
	RelayerKeyID   string
	SessionID      string
	ParticipantIDs []int
	TTLMs          int64
	RemainingUses  int
}

// VRFData carries the session-policy digest bound by the client's
// WebAuthn assertion.
type VRFData struct {
	SessionPolicyDigest32 []byte
}

// CreateInput is a `session` request.
type CreateInput struct {
	RelayerKeyID           string
	ClientVerifyingShare   []byte
	Policy                 Policy
	VRFData                VRFData
	WebAuthnAuthentication []byte
}

// CreateResult is what a successful `session` call returns.
type CreateResult struct {
	SessionID     string
	ExpiresAtMs   int64
	RemainingUses int
}

// AuthorizeWithSessionInput is an `authorize-with-session` request.
type AuthorizeWithSessionInput struct {
	SessionID       string
	UserID          string
	RelayerKeyID    string
	RpID            string
	ParticipantIDs  []int
	SigningPayload  validate.Payload
	SigningDigest32 []byte
}

// Service wires SessionService's collaborators.
type Service struct {
	strategy             *keystrategy.Strategy
	nearClient           nearclient.Client
	verifier             webauthnverify.Verifier
	authSessions         store.AuthSessionStore
	mpcSessions          store.MpcSessionStore
	clientParticipantID  int
	relayerParticipantID int
}

func New(strategy *keystrategy.Strategy, nearClient nearclient.Client, verifier webauthnverify.Verifier, authSessions store.AuthSessionStore, mpcSessions store.MpcSessionStore, clientParticipantID, relayerParticipantID int) *Service {
	return &Service{
		strategy:             strategy,
		nearClient:           nearClient,
		verifier:             verifier,
		authSessions:         authSessions,
		mpcSessions:          mpcSessions,
		clientParticipantID:  clientParticipantID,
		relayerParticipantID: relayerParticipantID,
	}
}

func (s *Service) serverParticipantIDs() []int {
	ids := []int{s.clientParticipantID, s.relayerParticipantID}
	sort.Ints(ids)
	return ids
}

func clamp(p Policy) Policy {
	clamped := p
	if clamped.TTLMs > MaxTTL.Milliseconds() {
		clamped.TTLMs = MaxTTL.Milliseconds()
	}
	if clamped.RemainingUses > MaxUses {
		clamped.RemainingUses = MaxUses
	}
	return clamped
}

func policyDigest(p Policy) ([32]byte, error) {
	return canonical.Digest(map[string]interface{}{
		"version":        "threshold_session_v1",
		"nearAccountId":  p.NearAccountID,
		"rpId":           p.RpID,
		"relayerKeyId":   p.RelayerKeyID,
		"sessionId":      p.SessionID,
		"participantIds": p.ParticipantIDs,
		"ttlMs":          p.TTLMs,
		"remainingUses":  p.RemainingUses,
	})
}

func sameIntSet(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := append([]int(nil), a...), append([]int(nil), b...)
	sort.Ints(sa)
	sort.Ints(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// Create runs SessionService's create flow.
func (s *Service) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	if in.Policy.Version != "threshold_session_v1" {
		return CreateResult{}, rerr.New(rerr.CodeInvalidBody, "session policy version must be threshold_session_v1")
	}
	participantIDs := in.Policy.ParticipantIDs
	if participantIDs == nil {
		participantIDs = s.serverParticipantIDs()
	}
	if len(participantIDs) != 2 || !sameIntSet(participantIDs, s.serverParticipantIDs()) {
		return CreateResult{}, rerr.New(rerr.CodeMultiPartyNotSupported, "session participant set must be exactly the configured client+relayer pair")
	}

	clampedPolicy := clamp(in.Policy)
	clampedPolicy.ParticipantIDs = participantIDs

	// Idempotent replay: an existing record for this sessionId is
	// returned as-is without re-verifying or resetting the use budget.
	if existing, ok, err := s.authSessions.GetSession(ctx, in.Policy.SessionID); err != nil {
		return CreateResult{}, rerr.Internal(err, "lookup existing auth session")
	} else if ok {
		if existing.RelayerKeyID != in.RelayerKeyID || existing.UserID != in.Policy.NearAccountID || existing.RpID != in.Policy.RpID || !sameIntSet(existing.ParticipantIDs, participantIDs) {
			return CreateResult{}, rerr.New(rerr.CodeUnauthorized, "sessionId already bound to a different policy")
		}
		return CreateResult{SessionID: in.Policy.SessionID, ExpiresAtMs: existing.ExpiresAtMs}, nil
	}

	material, err := s.strategy.ResolveKeyMaterial(ctx, in.RelayerKeyID, in.Policy.NearAccountID, in.Policy.RpID, in.ClientVerifyingShare)
	if err != nil {
		return CreateResult{}, err
	}

	digest, err := policyDigest(clampedPolicy)
	if err != nil {
		return CreateResult{}, err
	}
	if !bytesEqual(digest[:], in.VRFData.SessionPolicyDigest32) {
		return CreateResult{}, rerr.New(rerr.CodeSessionPolicyMismatch, "clamped session policy does not hash to vrf_data.session_policy_digest_32")
	}

	verifyResult, err := s.verifier.VerifyAuthenticationResponse(ctx, webauthnverify.AuthenticationRequest{
		RawAssertionJSON: in.WebAuthnAuthentication,
		ExpectedRPID:     in.Policy.RpID,
		ExpectedUserID:   in.Policy.NearAccountID,
		ExpectedChallenge: in.VRFData.SessionPolicyDigest32,
	})
	if err != nil {
		return CreateResult{}, rerr.Wrap(rerr.CodeInternal, err, "webauthn verification request failed")
	}
	if !verifyResult.Success || !verifyResult.Verified {
		return CreateResult{}, rerr.New(rerr.CodeNotVerified, "webauthn assertion was not verified")
	}

	if err := validate.EnsureRelayerKeyIsActiveAccessKey(ctx, s.nearClient, in.Policy.NearAccountID, material.RelayerKeyID, "", false); err != nil {
		return CreateResult{}, err
	}

	ttl := time.Duration(clampedPolicy.TTLMs) * time.Millisecond
	expiresAt := time.Now().Add(ttl)
	rec := store.AuthSession{
		ExpiresAtMs:    expiresAt.UnixMilli(),
		RelayerKeyID:   material.RelayerKeyID,
		UserID:         in.Policy.NearAccountID,
		RpID:           in.Policy.RpID,
		ParticipantIDs: participantIDs,
	}
	if err := s.authSessions.PutSession(ctx, in.Policy.SessionID, rec, store.AuthSessionOpts{TTL: ttl, RemainingUses: clampedPolicy.RemainingUses}); err != nil {
		return CreateResult{}, rerr.Internal(err, "persist auth session")
	}

	logger.Infof("session created sessionId=%s relayerKeyId=%s uses=%d", in.Policy.SessionID, material.RelayerKeyID, clampedPolicy.RemainingUses)
	return CreateResult{SessionID: in.Policy.SessionID, ExpiresAtMs: expiresAt.UnixMilli(), RemainingUses: clampedPolicy.RemainingUses}, nil
}

// AuthorizeWithSession spends one use of an existing auth session and
// mints a fresh single-use MpcSession, the session-mode analogue of
// AuthorizeService.
func (s *Service) AuthorizeWithSession(ctx context.Context, in AuthorizeWithSessionInput) (string, int64, error) {
	rec, remaining, ok, err := s.authSessions.ConsumeUse(ctx, in.SessionID)
	if err != nil {
		return "", 0, rerr.Internal(err, "consume auth session use")
	}
	if !ok {
		return "", 0, rerr.New(rerr.CodeUnauthorized, "session expired, invalid, or use budget exhausted")
	}
	_ = remaining
	if rec.UserID != in.UserID || rec.RelayerKeyID != in.RelayerKeyID || rec.RpID != in.RpID || !sameIntSet(rec.ParticipantIDs, in.ParticipantIDs) {
		return "", 0, rerr.New(rerr.CodeUnauthorized, "session scope does not match request")
	}

	signingDigests, err := validate.ComputeSigningDigests(in.SigningPayload)
	if err != nil {
		return "", 0, err
	}
	if !digestIn(in.SigningDigest32, signingDigests) {
		return "", 0, rerr.New(rerr.CodeSigningDigestMismatch, "signing_digest_32 is not derivable from the signing payload")
	}

	expectedSigner, hasExpected := validate.ExpectedSigningPublicKey(in.SigningPayload)
	if err := validate.EnsureRelayerKeyIsActiveAccessKey(ctx, s.nearClient, in.UserID, in.RelayerKeyID, expectedSigner, hasExpected); err != nil {
		return "", 0, err
	}

	mpcSessionID := uuid.NewString()
	expiresAt := time.Now().Add(mpcSessionTTL)
	mpcRec := store.MpcSession{
		ExpiresAtMs:    expiresAt.UnixMilli(),
		RelayerKeyID:   in.RelayerKeyID,
		Purpose:        in.SigningPayload.Purpose,
		SigningDigest:  in.SigningDigest32,
		UserID:         in.UserID,
		RpID:           in.RpID,
		ParticipantIDs: in.ParticipantIDs,
	}
	if err := s.mpcSessions.PutMpc(ctx, mpcSessionID, mpcRec, mpcSessionTTL); err != nil {
		return "", 0, rerr.Internal(err, "persist mpc session")
	}
	return mpcSessionID, expiresAt.UnixMilli(), nil
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
