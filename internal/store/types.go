// Package store defines the KV contracts the relayer core depends on
// (KeyStore, MpcSessionStore, AuthSessionStore) and the record shapes
// they carry. Three backends implement these contracts: memory, rediskv,
// and restkv (see the sibling packages).
package store

import "time"

// Purpose is the tagged-union discriminant for a signing payload.
type Purpose string

const (
	PurposeNearTx         Purpose = "near_tx"
	PurposeNep461Delegate Purpose = "nep461_delegate"
	PurposeNep413         Purpose = "nep413"
)

// KeyMaterial is the persisted (or recomputed) record backing one group
// key: relayerKeyId equals the canonical publicKey encoding unless a
// strategy explicitly overrides it.
type KeyMaterial struct {
	RelayerKeyID        string `json:"relayerKeyId"`
	PublicKey           []byte `json:"publicKey"`
	ServerSigningShare  []byte `json:"serverSigningShare,omitempty"`
	ServerVerifyingShare []byte `json:"serverVerifyingShare"`
}

// Commitments is one participant's round-1 nonce commitment pair.
type Commitments struct {
	Hiding  []byte `json:"hiding"`
	Binding []byte `json:"binding"`
}

// MpcSession is the single-use record created by authorize (or
// authorize-with-session) and consumed exactly once by sign/init.
type MpcSession struct {
	ExpiresAtMs          int64    `json:"expiresAtMs"`
	RelayerKeyID         string   `json:"relayerKeyId"`
	Purpose              Purpose  `json:"purpose"`
	IntentDigest         []byte   `json:"intentDigest"`
	SigningDigest         []byte   `json:"signingDigest"`
	UserID               string   `json:"userId"`
	RpID                 string   `json:"rpId"`
	ClientVerifyingShare []byte   `json:"clientVerifyingShare"`
	ParticipantIDs       []int    `json:"participantIds"`
}

// SigningSession is the two-round record created by sign/init (or
// cosign/init) and consumed exactly once by sign/finalize.
type SigningSession struct {
	ExpiresAtMs          int64               `json:"expiresAtMs"`
	MpcSessionID         string              `json:"mpcSessionId"`
	RelayerKeyID         string              `json:"relayerKeyId"`
	SigningDigest        []byte              `json:"signingDigest"`
	UserID               string              `json:"userId"`
	RpID                 string              `json:"rpId"`
	ClientVerifyingShare []byte              `json:"clientVerifyingShare"`
	CommitmentsByID      map[string]Commitments `json:"commitmentsById"`
	ServerNonces         SigningNonces       `json:"serverNonces"`
	ServerSigningShare   []byte              `json:"serverSigningShare,omitempty"`
	ParticipantIDs       []int               `json:"participantIds"`
}

// SigningNonces are the round-1 secret nonce scalars a participant keeps
// between commit and partial-sign.
type SigningNonces struct {
	Hiding  []byte `json:"hiding"`
	Binding []byte `json:"binding"`
}

// CoSignerLeg is one co-signer's contribution to a fanned-out session.
type CoSignerLeg struct {
	CosignerID         int    `json:"cosignerId"`
	RelayerURL         string `json:"relayerUrl"`
	Grant              string `json:"grant"`
	PeerSigningSessionID string `json:"peerSigningSessionId"`
}

// CoordinatorSigningSession generalizes SigningSession with the
// co-signer fan-out bookkeeping needed to finalize across legs.
type CoordinatorSigningSession struct {
	SigningSession
	Mode        string        `json:"mode"` // "local" | "cosigner"
	CosignerIDs []int         `json:"cosignerIds,omitempty"`
	Legs        []CoSignerLeg `json:"legs,omitempty"`
	GroupPublicKey []byte     `json:"groupPublicKey"`
}

// AuthSession is the multi-use record created by session and consumed by
// authorize-with-session, budget-limited by RemainingUses.
type AuthSession struct {
	ExpiresAtMs    int64 `json:"expiresAtMs"`
	RelayerKeyID   string `json:"relayerKeyId"`
	UserID         string `json:"userId"`
	RpID           string `json:"rpId"`
	ParticipantIDs []int  `json:"participantIds"`
}

// AuthSessionOpts configures the TTL and use budget at creation time.
type AuthSessionOpts struct {
	TTL           time.Duration
	RemainingUses int
}
