package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/web3-authn/threshold-relayer/internal/authorize"
	"github.com/web3-authn/threshold-relayer/internal/rerr"
)

type authorizeRequestWire struct {
	RelayerKeyID         string `json:"relayerKeyId"`
	ClientVerifyingShare string `json:"clientVerifyingShare"`
	VRFData              struct {
		UserID         string `json:"user_id"`
		RpID           string `json:"rp_id"`
		IntentDigest32 string `json:"intent_digest_32"`
	} `json:"vrf_data"`
	WebAuthnAuthentication json.RawMessage    `json:"webauthn_authentication"`
	SigningPayload         signingPayloadWire `json:"signingPayload"`
	SigningDigest32        string             `json:"signing_digest_32"`
}

func (h *handlers) authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var wireReq authorizeRequestWire
	if err := decodeBody(r, &wireReq); err != nil {
		writeErr(w, err)
		return
	}

	clientVerifyingShare, err := decodeB64U("clientVerifyingShare", wireReq.ClientVerifyingShare)
	if err != nil {
		writeErr(w, err)
		return
	}
	intentDigest, err := decodeB64U("vrf_data.intent_digest_32", wireReq.VRFData.IntentDigest32)
	if err != nil {
		writeErr(w, err)
		return
	}
	signingDigest, err := decodeB64U("signing_digest_32", wireReq.SigningDigest32)
	if err != nil {
		writeErr(w, err)
		return
	}
	payload, err := wireReq.SigningPayload.toPayload()
	if err != nil {
		writeErr(w, err)
		return
	}
	if payload.Purpose == "" {
		writeErr(w, rerr.New(rerr.CodeInvalidBody, "signingPayload is required"))
		return
	}

	result, err := h.svc.Authorize.Authorize(ctx, authorize.Input{
		RelayerKeyID:         wireReq.RelayerKeyID,
		Purpose:              payload.Purpose,
		ClientVerifyingShare: clientVerifyingShare,
		VRFData: authorize.VRFData{
			UserID:         wireReq.VRFData.UserID,
			RpID:           wireReq.VRFData.RpID,
			IntentDigest32: intentDigest,
		},
		WebAuthnAuthentication: wireReq.WebAuthnAuthentication,
		SigningPayload:         payload,
		SigningDigest32:        signingDigest,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]interface{}{
		"mpcSessionId": result.MpcSessionID,
		"expiresAtMs":  result.ExpiresAtMs,
	})
}
