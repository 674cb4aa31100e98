package signing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/web3-authn/threshold-relayer/internal/cosigner"
	"github.com/web3-authn/threshold-relayer/internal/frost"
	"github.com/web3-authn/threshold-relayer/internal/grant"
	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/scalarfield"
	"github.com/web3-authn/threshold-relayer/internal/store"
)

// CosignInit is the /internal/cosign/init handler's logic: verify the
// grant, run round 1 with the sub-share the coordinator supplied, and
// persist just enough state to answer cosign/finalize later.
func (s *Service) CosignInit(ctx context.Context, req CosignInitRequest) (CosignInitResponse, error) {
	payload, err := s.grantCodec.Verify(req.Grant, grant.TypeCosignerGrant, time.Now())
	if err != nil {
		return CosignInitResponse{}, err
	}
	if payload.CosignerID == nil {
		return CosignInitResponse{}, rerr.New(rerr.CodeUnauthorized, "cosigner grant is missing cosignerId")
	}
	if !bytesEqual(payload.MpcSession.SigningDigest, req.SigningDigest) {
		return CosignInitResponse{}, rerr.New(rerr.CodeUnauthorized, "cosign/init signingDigest does not match the grant's inlined mpc session")
	}

	subShare, err := scalarfield.DecodeScalar(req.SubShare)
	if err != nil {
		return CosignInitResponse{}, rerr.Wrap(rerr.CodeInvalidBody, err, "decode sub-share")
	}
	nonce, commitment, err := frost.Commit()
	if err != nil {
		return CosignInitResponse{}, err
	}

	peerSigningSessionID := uuid.NewString()
	rec := store.SigningSession{
		ExpiresAtMs:        time.Now().Add(signingSessionTTL).UnixMilli(),
		MpcSessionID:       payload.MpcSessionID,
		RelayerKeyID:       payload.MpcSession.RelayerKeyID,
		SigningDigest:      req.SigningDigest,
		UserID:             payload.MpcSession.UserID,
		RpID:               payload.MpcSession.RpID,
		ServerNonces:       fromFrostNonce(nonce),
		ServerSigningShare: subShare.EncodeScalar(),
	}
	if err := s.mpcSessions.PutSigning(ctx, peerSigningSessionID, rec, signingSessionTTL); err != nil {
		return CosignInitResponse{}, rerr.Internal(err, "persist peer signing session")
	}

	logger.Infof("cosign/init cosignerId=%d peerSigningSessionId=%s", *payload.CosignerID, peerSigningSessionID)
	return CosignInitResponse{PeerSigningSessionID: peerSigningSessionID, Commitment: fromFrostCommitment(commitment)}, nil
}

// CosignFinalize is the /internal/cosign/finalize handler's logic: verify
// the grant, take the round-1 state, and produce this co-signer's
// Lagrange-weighted partial signature share.
func (s *Service) CosignFinalize(ctx context.Context, req CosignFinalizeRequest) (CosignFinalizeResponse, error) {
	payload, err := s.grantCodec.Verify(req.Grant, grant.TypeCosignerGrant, time.Now())
	if err != nil {
		return CosignFinalizeResponse{}, err
	}
	if payload.CosignerID == nil {
		return CosignFinalizeResponse{}, rerr.New(rerr.CodeUnauthorized, "cosigner grant is missing cosignerId")
	}

	rec, ok, err := s.mpcSessions.TakeSigning(ctx, req.PeerSigningSessionID)
	if err != nil {
		return CosignFinalizeResponse{}, rerr.Internal(err, "take peer signing session")
	}
	if !ok {
		return CosignFinalizeResponse{}, rerr.New(rerr.CodeUnauthorized, "peer signing session is missing, expired, or already consumed")
	}
	if !bytesEqual(rec.SigningDigest, req.SigningDigest) {
		if remaining := time.Until(time.UnixMilli(rec.ExpiresAtMs)); remaining > 0 {
			if restoreErr := s.mpcSessions.PutSigning(ctx, req.PeerSigningSessionID, rec, remaining); restoreErr != nil {
				logger.Warnf("restore peer signing session after mismatch failed: %v", restoreErr)
			}
		}
		return CosignFinalizeResponse{}, rerr.New(rerr.CodeUnauthorized, "cosign/finalize signingDigest does not match this co-signer's round-1 state")
	}

	nonce, err := toFrostNonce(rec.ServerNonces)
	if err != nil {
		return CosignFinalizeResponse{}, err
	}
	subShare, err := scalarfield.DecodeScalar(rec.ServerSigningShare)
	if err != nil {
		return CosignFinalizeResponse{}, rerr.Wrap(rerr.CodeInternal, err, "decode stored sub-share")
	}

	commitmentsByID := make(map[int]frost.Commitment, len(req.CommitmentsByParticipant))
	for id, c := range req.CommitmentsByParticipant {
		fc, err := toFrostCommitment(c)
		if err != nil {
			return CosignFinalizeResponse{}, err
		}
		commitmentsByID[id] = fc
	}

	R, bindingFactors, err := frost.GroupCommitment(req.SigningDigest, commitmentsByID)
	if err != nil {
		return CosignFinalizeResponse{}, err
	}
	challenge, err := frost.Challenge(R, req.GroupPublicKey, req.SigningDigest)
	if err != nil {
		return CosignFinalizeResponse{}, err
	}

	lambda, err := cosigner.LagrangeCoefficientAtZero(req.CosignerIDs, *payload.CosignerID)
	if err != nil {
		return CosignFinalizeResponse{}, err
	}

	z, err := frost.PartialSign(nonce, bindingFactors[req.ServerParticipantID], challenge, lambda, subShare)
	if err != nil {
		return CosignFinalizeResponse{}, err
	}
	return CosignFinalizeResponse{PartialSignatureShare: z.EncodeScalar()}, nil
}
