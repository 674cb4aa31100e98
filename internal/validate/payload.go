// Package validate recomputes intent and signing digests from a
// structured signing payload and confirms the relayer's public key is an
// active access key on the caller's account. It is the component spec.md
// calls out as correctness-critical; canonicalization is delegated to
// internal/canonical rather than hand-rolled per-callsite sorting.
package validate

import (
	"context"
	"crypto/sha256"
	"strings"

	"github.com/web3-authn/threshold-relayer/internal/canonical"
	"github.com/web3-authn/threshold-relayer/internal/nearclient"
	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/store"
)

// Action is the semantically-bound subset of a NEAR action's fields.
type Action struct {
	ActionType       string `json:"action_type"`
	MethodName       string `json:"method_name,omitempty"`
	Args             string `json:"args,omitempty"`
	Deposit          string `json:"deposit,omitempty"`
	Gas              string `json:"gas,omitempty"`
	AccessKeyPayload string `json:"access_key_payload,omitempty"`
	BeneficiaryID    string `json:"beneficiary_id,omitempty"`
}

// TxSigningRequest is one transaction-like request within a near_tx
// payload; all requests in the same payload must share nearAccountId.
type TxSigningRequest struct {
	NearAccountID   string   `json:"nearAccountId"`
	ReceiverID      string   `json:"receiverId"`
	Actions         []Action `json:"actions"`
	SignerPublicKey string   `json:"signerPublicKey,omitempty"`
}

// DelegateRequest is a nep461-style delegated-transaction record.
type DelegateRequest struct {
	SenderID        string   `json:"senderId"`
	ReceiverID      string   `json:"receiverId"`
	Actions         []Action `json:"actions"`
	SignerPublicKey string   `json:"signerPublicKey,omitempty"`
}

// Nep413Request is a signed-message record.
type Nep413Request struct {
	Kind          string `json:"kind"`
	NearAccountID string `json:"nearAccountId"`
	Recipient     string `json:"recipient"`
	Message       string `json:"message"`
}

// Payload is the tagged union over purpose; exactly one field is
// populated depending on Purpose.
type Payload struct {
	Purpose          store.Purpose
	TxSigningRequests []TxSigningRequest
	Delegate          *DelegateRequest
	Nep413            *Nep413Request
}

// ComputeIntentDigest recomputes the 32-byte digest bound into a
// WebAuthn assertion for this payload, rejecting mismatched account ids.
func ComputeIntentDigest(payload Payload, userID string) ([32]byte, error) {
	switch payload.Purpose {
	case store.PurposeNearTx:
		if len(payload.TxSigningRequests) == 0 {
			return [32]byte{}, rerr.New(rerr.CodeInvalidBody, "near_tx payload requires at least one signing request")
		}
		for _, r := range payload.TxSigningRequests {
			if r.NearAccountID != userID {
				return [32]byte{}, rerr.Newf(rerr.CodeInvalidBody, "near_tx request account %q does not match userId %q", r.NearAccountID, userID)
			}
		}
		return canonical.Digest(payload.TxSigningRequests)

	case store.PurposeNep461Delegate:
		if payload.Delegate == nil {
			return [32]byte{}, rerr.New(rerr.CodeInvalidBody, "nep461_delegate payload is missing")
		}
		if payload.Delegate.SenderID != userID {
			return [32]byte{}, rerr.Newf(rerr.CodeInvalidBody, "delegate senderId %q does not match userId %q", payload.Delegate.SenderID, userID)
		}
		return canonical.Digest(payload.Delegate)

	case store.PurposeNep413:
		if payload.Nep413 == nil {
			return [32]byte{}, rerr.New(rerr.CodeInvalidBody, "nep413 payload is missing")
		}
		if payload.Nep413.NearAccountID != userID {
			return [32]byte{}, rerr.Newf(rerr.CodeInvalidBody, "nep413 account %q does not match userId %q", payload.Nep413.NearAccountID, userID)
		}
		return canonical.Digest(payload.Nep413)

	default:
		return [32]byte{}, rerr.Newf(rerr.CodeInvalidBody, "unknown purpose %q", payload.Purpose)
	}
}

// ComputeSigningDigests returns the set of byte-exact digests the
// request's signing_digest_32 must appear in. near_tx may yield a vector
// (one digest per transaction-like request); the others yield exactly
// one.
func ComputeSigningDigests(payload Payload) ([][32]byte, error) {
	switch payload.Purpose {
	case store.PurposeNearTx:
		digests := make([][32]byte, 0, len(payload.TxSigningRequests))
		for _, r := range payload.TxSigningRequests {
			d, err := canonical.Digest(r)
			if err != nil {
				return nil, err
			}
			digests = append(digests, d)
		}
		return digests, nil
	case store.PurposeNep461Delegate:
		if payload.Delegate == nil {
			return nil, rerr.New(rerr.CodeInvalidBody, "nep461_delegate payload is missing")
		}
		d, err := canonical.Digest(payload.Delegate)
		if err != nil {
			return nil, err
		}
		return [][32]byte{d}, nil
	case store.PurposeNep413:
		if payload.Nep413 == nil {
			return nil, rerr.New(rerr.CodeInvalidBody, "nep413 payload is missing")
		}
		d, err := canonical.Digest(payload.Nep413)
		if err != nil {
			return nil, err
		}
		return [][32]byte{d}, nil
	default:
		return nil, rerr.Newf(rerr.CodeInvalidBody, "unknown purpose %q", payload.Purpose)
	}
}

// ExpectedSigningPublicKey extracts the signer/delegate public key the
// scope check must match against the relayer public key, if the payload
// carries one.
func ExpectedSigningPublicKey(payload Payload) (string, bool) {
	switch payload.Purpose {
	case store.PurposeNearTx:
		for _, r := range payload.TxSigningRequests {
			if r.SignerPublicKey != "" {
				return r.SignerPublicKey, true
			}
		}
		return "", false
	case store.PurposeNep461Delegate:
		if payload.Delegate != nil && payload.Delegate.SignerPublicKey != "" {
			return payload.Delegate.SignerPublicKey, true
		}
		return "", false
	default:
		return "", false
	}
}

func normalizeEd25519Prefix(pubKey string) string {
	return strings.TrimPrefix(pubKey, "ed25519:")
}

// EnsureRelayerKeyIsActiveAccessKey confirms relayerPublicKey is among
// nearAccountId's active access keys, and — when expectedSigningPublicKey
// is present in the payload — that it string-equals relayerPublicKey.
func EnsureRelayerKeyIsActiveAccessKey(ctx context.Context, client nearclient.Client, nearAccountID, relayerPublicKey string, expectedSigningPublicKey string, hasExpected bool) error {
	if hasExpected && normalizeEd25519Prefix(expectedSigningPublicKey) != normalizeEd25519Prefix(relayerPublicKey) {
		return rerr.New(rerr.CodeNotVerified, "expected signing public key does not match relayer public key")
	}

	result, err := client.ViewAccessKeyList(ctx, nearAccountID)
	if err != nil {
		return rerr.Wrap(rerr.CodeInternal, err, "view access key list")
	}
	target := normalizeEd25519Prefix(relayerPublicKey)
	for _, k := range result.Keys {
		if normalizeEd25519Prefix(k.PublicKey) == target {
			return nil
		}
	}
	return rerr.New(rerr.CodeNotVerified, "relayer public key is not an active access key on this account")
}

// Sha256Of is a small convenience used by callers that need a digest of
// a non-payload value (e.g. the clamped session policy) without
// constructing a Payload.
func Sha256Of(canonicalJSON []byte) [32]byte {
	return sha256.Sum256(canonicalJSON)
}
