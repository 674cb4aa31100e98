package httpapi

import (
	"net/http"
	"strconv"

	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/signing"
	"github.com/web3-authn/threshold-relayer/internal/store"
)

type cosignInitRequestWire struct {
	Grant             string `json:"grant"`
	SubShareB64u      string `json:"subShareB64u"`
	SigningDigestB64u string `json:"signingDigestB64u"`
}

func (h *handlers) cosignInit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var wireReq cosignInitRequestWire
	if err := decodeBody(r, &wireReq); err != nil {
		writeErr(w, err)
		return
	}
	subShare, err := decodeB64U("subShareB64u", wireReq.SubShareB64u)
	if err != nil {
		writeErr(w, err)
		return
	}
	signingDigest, err := decodeB64U("signingDigestB64u", wireReq.SigningDigestB64u)
	if err != nil {
		writeErr(w, err)
		return
	}

	result, err := h.svc.Signing.CosignInit(ctx, signing.CosignInitRequest{
		Grant:         wireReq.Grant,
		SubShare:      subShare,
		SigningDigest: signingDigest,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]interface{}{
		"peerSigningSessionId": result.PeerSigningSessionID,
		"commitment":           encodeCommitmentsWire(result.Commitment),
	})
}

type cosignFinalizeRequestWire struct {
	Grant                    string                     `json:"grant"`
	PeerSigningSessionID     string                     `json:"peerSigningSessionId"`
	CommitmentsByParticipant map[string]commitmentsWire `json:"commitmentsByParticipant"`
	ServerParticipantID      int                        `json:"serverParticipantId"`
	CosignerIDs              []int                      `json:"cosignerIds"`
	SigningDigestB64u        string                     `json:"signingDigestB64u"`
	GroupPublicKeyB64u       string                     `json:"groupPublicKeyB64u"`
}

func (h *handlers) cosignFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var wireReq cosignFinalizeRequestWire
	if err := decodeBody(r, &wireReq); err != nil {
		writeErr(w, err)
		return
	}

	signingDigest, err := decodeB64U("signingDigestB64u", wireReq.SigningDigestB64u)
	if err != nil {
		writeErr(w, err)
		return
	}
	groupPublicKey, err := decodeB64U("groupPublicKeyB64u", wireReq.GroupPublicKeyB64u)
	if err != nil {
		writeErr(w, err)
		return
	}

	commitmentsByParticipant := make(map[int]store.Commitments, len(wireReq.CommitmentsByParticipant))
	for idStr, c := range wireReq.CommitmentsByParticipant {
		id, convErr := strconv.Atoi(idStr)
		if convErr != nil {
			writeErr(w, rerr.Wrapf(rerr.CodeInvalidBody, convErr, "commitmentsByParticipant key %q is not an integer participant id", idStr))
			return
		}
		decoded, decodeErr := c.decode()
		if decodeErr != nil {
			writeErr(w, decodeErr)
			return
		}
		commitmentsByParticipant[id] = decoded
	}

	result, err := h.svc.Signing.CosignFinalize(ctx, signing.CosignFinalizeRequest{
		Grant:                    wireReq.Grant,
		PeerSigningSessionID:     wireReq.PeerSigningSessionID,
		CommitmentsByParticipant: commitmentsByParticipant,
		ServerParticipantID:      wireReq.ServerParticipantID,
		CosignerIDs:              wireReq.CosignerIDs,
		SigningDigest:            signingDigest,
		GroupPublicKey:           groupPublicKey,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]interface{}{
		"partialSignatureShareB64u": encodeB64U(result.PartialSignatureShare),
	})
}
