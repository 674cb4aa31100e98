package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/web3-authn/threshold-relayer/internal/keygen"
)

type keygenRequestWire struct {
	RegistrationTxHash string `json:"registrationTxHash,omitempty"`
	VRFData            *struct {
		UserID         string `json:"user_id"`
		RpID           string `json:"rp_id"`
		IntentDigest32 string `json:"intent_digest_32"`
	} `json:"vrf_data,omitempty"`
	WebAuthnAuthentication json.RawMessage `json:"webauthn_authentication,omitempty"`
	NearAccountID          string          `json:"nearAccountId"`
	ClientVerifyingShare   string          `json:"clientVerifyingShare"`
}

func (h *handlers) keygen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var wireReq keygenRequestWire
	if err := decodeBody(r, &wireReq); err != nil {
		writeErr(w, err)
		return
	}

	clientVerifyingShare, err := decodeB64U("clientVerifyingShare", wireReq.ClientVerifyingShare)
	if err != nil {
		writeErr(w, err)
		return
	}

	in := keygen.Input{
		RegistrationTxHash:     wireReq.RegistrationTxHash,
		WebAuthnAuthentication: wireReq.WebAuthnAuthentication,
		NearAccountID:          wireReq.NearAccountID,
		ClientVerifyingShare:   clientVerifyingShare,
	}
	if wireReq.VRFData != nil {
		intentDigest, err := decodeB64U("vrf_data.intent_digest_32", wireReq.VRFData.IntentDigest32)
		if err != nil {
			writeErr(w, err)
			return
		}
		in.VRFData = &keygen.VRFData{
			UserID:         wireReq.VRFData.UserID,
			RpID:           wireReq.VRFData.RpID,
			IntentDigest32: intentDigest,
		}
	}

	result, err := h.svc.Keygen.Keygen(ctx, in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]interface{}{
		"relayerKeyId":          result.RelayerKeyID,
		"publicKey":             encodeB64U(result.PublicKey),
		"relayerVerifyingShare": encodeB64U(result.RelayerVerifyingShare),
		"participantIds":        result.ParticipantIDs,
	})
}
