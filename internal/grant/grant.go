// Package grant implements HMAC-signed grant tokens used to authenticate
// coordinator-to-peer calls (coordinator_grant_v1) and coordinator-to-
// co-signer calls (cosigner_grant_v1). The envelope shape and
// constant-time verification are grounded on kopexa-grc-common's
// iam/tokens package (SigningInfo / signData / verifyData), adapted from
// msgpack to JSON payloads per this protocol's wire convention and
// generalized from a single token kind to a small registry of grant
// types.
package grant

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/store"
)

// Type is one of the registered grant kinds.
type Type string

const (
	TypeCoordinatorGrant Type = "coordinator_grant_v1"
	TypeCosignerGrant    Type = "cosigner_grant_v1"
)

var registeredTypes = map[Type]bool{
	TypeCoordinatorGrant: true,
	TypeCosignerGrant:    true,
}

// Payload is the typed, inlined envelope every grant carries.
type Payload struct {
	V                 int             `json:"v"`
	Typ               Type            `json:"typ"`
	Iat               int64           `json:"iat"`
	Exp               int64           `json:"exp"`
	MpcSessionID      string          `json:"mpcSessionId"`
	PeerParticipantID *int            `json:"peerParticipantId,omitempty"`
	CosignerID        *int            `json:"cosignerId,omitempty"`
	MpcSession        store.MpcSession `json:"mpcSession"`
}

// Codec signs and verifies grants under a single shared HMAC key, cached
// once at construction the way the relayer caches its HMAC key material
// across the lifetime of the signing-handlers value.
type Codec struct {
	secret []byte
}

func NewCodec(secret []byte) *Codec {
	cached := make([]byte, len(secret))
	copy(cached, secret)
	return &Codec{secret: cached}
}

// Sign produces "b64url(payload_json).b64url(hmac_sha256(secret, payload_json))".
func (c *Codec) Sign(payload Payload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", rerr.Internal(err, "grant: marshal payload")
	}
	sig := hmac.New(sha256.New, c.secret)
	if _, err := sig.Write(raw); err != nil {
		return "", rerr.Internal(err, "grant: compute hmac")
	}
	payloadPart := base64.RawURLEncoding.EncodeToString(raw)
	sigPart := base64.RawURLEncoding.EncodeToString(sig.Sum(nil))
	return payloadPart + "." + sigPart, nil
}

// Verify splits, decodes, and validates a grant token, requiring the
// payload's typ to equal expectedTyp.
func (c *Codec) Verify(token string, expectedTyp Type, now time.Time) (Payload, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return Payload{}, rerr.New(rerr.CodeUnauthorized, "grant: malformed token, expected payload.signature")
	}
	rawPayload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Payload{}, rerr.Wrap(rerr.CodeUnauthorized, err, "grant: bad payload encoding")
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Payload{}, rerr.Wrap(rerr.CodeUnauthorized, err, "grant: bad signature encoding")
	}
	if len(sig) != sha256.Size {
		return Payload{}, rerr.New(rerr.CodeUnauthorized, "grant: signature must be 32 bytes")
	}

	expected := hmac.New(sha256.New, c.secret)
	if _, err := expected.Write(rawPayload); err != nil {
		return Payload{}, rerr.Internal(err, "grant: recompute hmac")
	}
	if !hmac.Equal(sig, expected.Sum(nil)) {
		return Payload{}, rerr.New(rerr.CodeUnauthorized, "grant: signature mismatch")
	}

	var payload Payload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return Payload{}, rerr.Wrap(rerr.CodeUnauthorized, err, "grant: payload is not valid JSON")
	}
	if payload.V != 1 {
		return Payload{}, rerr.Newf(rerr.CodeUnauthorized, "grant: unsupported version %d", payload.V)
	}
	if !registeredTypes[payload.Typ] {
		return Payload{}, rerr.Newf(rerr.CodeUnauthorized, "grant: unknown typ %q", payload.Typ)
	}
	if payload.Typ != expectedTyp {
		return Payload{}, rerr.Newf(rerr.CodeUnauthorized, "grant: expected typ %q, got %q", expectedTyp, payload.Typ)
	}
	if payload.Iat > payload.Exp {
		return Payload{}, rerr.New(rerr.CodeUnauthorized, "grant: iat after exp")
	}
	if now.Unix() >= payload.Exp {
		return Payload{}, rerr.New(rerr.CodeUnauthorized, "grant: expired")
	}
	if payload.MpcSession.ExpiresAtMs <= now.UnixMilli() {
		return Payload{}, rerr.New(rerr.CodeUnauthorized, "grant: inlined mpc session expired")
	}
	return payload, nil
}
