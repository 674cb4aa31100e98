package signing

import (
	"context"

	"github.com/web3-authn/threshold-relayer/internal/store"
)

// CosignInitRequest is what the coordinator sends a chosen co-signer to
// start round 1 with the sub-share the coordinator derived for it.
type CosignInitRequest struct {
	Grant         string
	SubShare      []byte
	SigningDigest []byte
}

// CosignInitResponse is the co-signer's round-1 reply.
type CosignInitResponse struct {
	PeerSigningSessionID string
	Commitment           store.Commitments
}

// CosignFinalizeRequest carries everything a co-signer needs to
// independently recompute the binding factor, group commitment, and
// challenge, then produce its Lagrange-weighted partial signature share.
type CosignFinalizeRequest struct {
	Grant                    string
	PeerSigningSessionID     string
	CommitmentsByParticipant map[int]store.Commitments
	// ServerParticipantID is the FROST identity the combined co-signer
	// group signs under (the coordinator's configured relayer
	// participant id), telling a peer which entry of
	// CommitmentsByParticipant/the derived binding-factor map is "its"
	// side of the two-party client/server split.
	ServerParticipantID int
	CosignerIDs         []int
	SigningDigest       []byte
	GroupPublicKey      []byte
}

// CosignFinalizeResponse is the co-signer's round-2 reply.
type CosignFinalizeResponse struct {
	PartialSignatureShare []byte
}

// CosignerClient is the fan-out collaborator the coordinator uses to call
// a remote co-signer's internal endpoints. A context deadline (10s per
// spec) bounds every call.
type CosignerClient interface {
	CosignInit(ctx context.Context, baseURL string, req CosignInitRequest) (CosignInitResponse, error)
	CosignFinalize(ctx context.Context, baseURL string, req CosignFinalizeRequest) (CosignFinalizeResponse, error)
}
