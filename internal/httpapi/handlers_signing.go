package httpapi

import (
	"net/http"

	"github.com/web3-authn/threshold-relayer/internal/signing"
)

type signInitRequestWire struct {
	MpcSessionID      string          `json:"mpcSessionId"`
	RelayerKeyID      string          `json:"relayerKeyId"`
	NearAccountID     string          `json:"nearAccountId"`
	SigningDigestB64u string          `json:"signingDigestB64u"`
	ClientCommitments commitmentsWire `json:"clientCommitments"`
}

func (h *handlers) signInit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var wireReq signInitRequestWire
	if err := decodeBody(r, &wireReq); err != nil {
		writeErr(w, err)
		return
	}

	signingDigest, err := decodeB64U("signingDigestB64u", wireReq.SigningDigestB64u)
	if err != nil {
		writeErr(w, err)
		return
	}
	clientCommitment, err := wireReq.ClientCommitments.decode()
	if err != nil {
		writeErr(w, err)
		return
	}

	result, err := h.svc.Signing.Init(ctx, signing.InitInput{
		MpcSessionID:     wireReq.MpcSessionID,
		RelayerKeyID:     wireReq.RelayerKeyID,
		NearAccountID:    wireReq.NearAccountID,
		SigningDigest:    signingDigest,
		ClientCommitment: clientCommitment,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	commitmentsByID := make(map[string]commitmentsWire, len(result.CommitmentsByID))
	for role, c := range result.CommitmentsByID {
		commitmentsByID[role] = encodeCommitmentsWire(c)
	}
	verifyingSharesByID := make(map[string]string, len(result.RelayerVerifyingSharesByID))
	for role, b := range result.RelayerVerifyingSharesByID {
		verifyingSharesByID[role] = encodeB64U(b)
	}
	writeOK(w, map[string]interface{}{
		"signingSessionId":           result.SigningSessionID,
		"commitmentsById":            commitmentsByID,
		"relayerVerifyingSharesById": verifyingSharesByID,
		"participantIds":             result.ParticipantIDs,
	})
}

// signFinalizeRequestWire carries the session-scoping fields this node's
// SigningHandlers.Finalize needs to re-validate the taken session against
// (spec.md's sign/finalize inputs list only signingSessionId and the
// client share; the coordinator still must bind the request to a
// relayerKeyId/nearAccountId/signingDigest, so those travel alongside —
// the client already holds them from its own sign/init call).
type signFinalizeRequestWire struct {
	SigningSessionID        string `json:"signingSessionId"`
	RelayerKeyID             string `json:"relayerKeyId"`
	NearAccountID            string `json:"nearAccountId"`
	SigningDigestB64u        string `json:"signingDigestB64u"`
	ClientSignatureShareB64u string `json:"clientSignatureShareB64u"`
}

func (h *handlers) signFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var wireReq signFinalizeRequestWire
	if err := decodeBody(r, &wireReq); err != nil {
		writeErr(w, err)
		return
	}

	signingDigest, err := decodeB64U("signingDigestB64u", wireReq.SigningDigestB64u)
	if err != nil {
		writeErr(w, err)
		return
	}
	clientShare, err := decodeB64U("clientSignatureShareB64u", wireReq.ClientSignatureShareB64u)
	if err != nil {
		writeErr(w, err)
		return
	}

	result, err := h.svc.Signing.Finalize(ctx, signing.FinalizeInput{
		SigningSessionID: wireReq.SigningSessionID,
		RelayerKeyID:     wireReq.RelayerKeyID,
		NearAccountID:    wireReq.NearAccountID,
		SigningDigest:    signingDigest,
		ClientShare:      clientShare,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]interface{}{
		"signature": encodeB64U(result.Signature),
	})
}
