package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/session"
)

type sessionPolicyWire struct {
	Version        string `json:"version"`
	NearAccountID  string `json:"nearAccountId"`
	RpID           string `json:"rpId"`
	RelayerKeyID   string `json:"relayerKeyId"`
	SessionID      string `json:"sessionId"`
	ParticipantIDs []int  `json:"participantIds,omitempty"`
	TTLMs          int64  `json:"ttlMs"`
	RemainingUses  int    `json:"remainingUses"`
}

type createSessionRequestWire struct {
	RelayerKeyID         string            `json:"relayerKeyId"`
	ClientVerifyingShare string            `json:"clientVerifyingShare"`
	SessionPolicy        sessionPolicyWire `json:"sessionPolicy"`
	VRFData              struct {
		SessionPolicyDigest32 string `json:"session_policy_digest_32"`
	} `json:"vrf_data"`
	WebAuthnAuthentication json.RawMessage `json:"webauthn_authentication"`
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var wireReq createSessionRequestWire
	if err := decodeBody(r, &wireReq); err != nil {
		writeErr(w, err)
		return
	}

	clientVerifyingShare, err := decodeB64U("clientVerifyingShare", wireReq.ClientVerifyingShare)
	if err != nil {
		writeErr(w, err)
		return
	}
	policyDigest, err := decodeB64U("vrf_data.session_policy_digest_32", wireReq.VRFData.SessionPolicyDigest32)
	if err != nil {
		writeErr(w, err)
		return
	}

	result, err := h.svc.Session.Create(ctx, session.CreateInput{
		RelayerKeyID:         wireReq.RelayerKeyID,
		ClientVerifyingShare: clientVerifyingShare,
		Policy: session.Policy{
			Version:        wireReq.SessionPolicy.Version,
			NearAccountID:  wireReq.SessionPolicy.NearAccountID,
			RpID:           wireReq.SessionPolicy.RpID,
			RelayerKeyID:   wireReq.SessionPolicy.RelayerKeyID,
			SessionID:      wireReq.SessionPolicy.SessionID,
			ParticipantIDs: wireReq.SessionPolicy.ParticipantIDs,
			TTLMs:          wireReq.SessionPolicy.TTLMs,
			RemainingUses:  wireReq.SessionPolicy.RemainingUses,
		},
		VRFData:                session.VRFData{SessionPolicyDigest32: policyDigest},
		WebAuthnAuthentication: wireReq.WebAuthnAuthentication,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]interface{}{
		"sessionId":     result.SessionID,
		"expiresAtMs":   result.ExpiresAtMs,
		"remainingUses": result.RemainingUses,
	})
}

type authorizeWithSessionRequestWire struct {
	SessionID       string             `json:"sessionId"`
	UserID          string             `json:"userId"`
	RelayerKeyID    string             `json:"relayerKeyId"`
	RpID            string             `json:"rpId"`
	ParticipantIDs  []int              `json:"participantIds"`
	SigningPayload  signingPayloadWire `json:"signingPayload"`
	SigningDigest32 string             `json:"signing_digest_32"`
}

func (h *handlers) authorizeWithSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var wireReq authorizeWithSessionRequestWire
	if err := decodeBody(r, &wireReq); err != nil {
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

	mpcSessionID, expiresAtMs, err := h.svc.Session.AuthorizeWithSession(ctx, session.AuthorizeWithSessionInput{
		SessionID:       wireReq.SessionID,
		UserID:          wireReq.UserID,
		RelayerKeyID:    wireReq.RelayerKeyID,
		RpID:            wireReq.RpID,
		ParticipantIDs:  wireReq.ParticipantIDs,
		SigningPayload:  payload,
		SigningDigest32: signingDigest,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]interface{}{
		"mpcSessionId": mpcSessionID,
		"expiresAtMs":  expiresAtMs,
	})
}
