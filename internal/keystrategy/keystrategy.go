// Package keystrategy implements the two interchangeable sources of
// server-side key material: "derived" (recomputed deterministically from
// a master secret and public binding inputs, never persisted) and
// "stored" (generated once at keygen time and persisted to a KeyStore).
// The deterministic-derivation idiom (domain-separated SHA-512-based
// hash_to_scalar over a set of binding inputs) is grounded on the
// teacher's eddsa/signing/round_3.go, which derives per-signer Lagrange
// factors the same way: concatenate context, hash, reduce mod L.
package keystrategy

import (
	"context"
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/scalarfield"
	"github.com/web3-authn/threshold-relayer/internal/store"
)

// ShareMode selects where the server signing share comes from.
type ShareMode string

const (
	ShareModeAuto    ShareMode = "auto"
	ShareModeKV      ShareMode = "kv"
	ShareModeDerived ShareMode = "derived"
)

const derivationDomain = "w3a/threshold-ed25519/server-share_v1"

// Config mirrors the THRESHOLD_ED25519_* options that select and
// parameterize the strategy.
type Config struct {
	ShareMode            ShareMode
	MasterSecret         []byte // required, exactly 32 bytes, when effective mode is derived
	ClientParticipantID  int
	RelayerParticipantID int
}

// EffectiveMode resolves "auto" against whether a master secret is set.
func (c Config) EffectiveMode() ShareMode {
	if c.ShareMode == ShareModeAuto || c.ShareMode == "" {
		if len(c.MasterSecret) == 32 {
			return ShareModeDerived
		}
		return ShareModeKV
	}
	return c.ShareMode
}

// Strategy resolves and produces KeyMaterial under the configured mode.
type Strategy struct {
	cfg      Config
	keyStore store.KeyStore
}

func New(cfg Config, keyStore store.KeyStore) (*Strategy, error) {
	if cfg.ClientParticipantID == cfg.RelayerParticipantID {
		return nil, rerr.New(rerr.CodeMissingConfig, "clientParticipantId and relayerParticipantId must differ")
	}
	if cfg.EffectiveMode() == ShareModeDerived && len(cfg.MasterSecret) != 32 {
		return nil, rerr.New(rerr.CodeMissingConfig, "derived share mode requires a 32-byte master secret")
	}
	return &Strategy{cfg: cfg, keyStore: keyStore}, nil
}

func participantLE(id int) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(id))
	return b
}

func (s *Strategy) deriveServerSigningShare(nearAccountID, rpID string, clientVerifyingShare []byte) (scalarfield.Scalar, error) {
	return scalarfield.HashToScalar(
		[]byte(derivationDomain),
		s.cfg.MasterSecret,
		[]byte(nearAccountID),
		[]byte(rpID),
		clientVerifyingShare,
		participantLE(s.cfg.ClientParticipantID),
		participantLE(s.cfg.RelayerParticipantID),
	)
}

func randomServerSigningShare() (scalarfield.Scalar, error) {
	for i := 0; i < 8; i++ {
		buf := make([]byte, scalarfield.ScalarSize)
		if _, err := rand.Read(buf); err != nil {
			return scalarfield.Scalar{}, errors.Wrap(err, "keystrategy: read random share")
		}
		// Clear the top bits so the candidate is well under L without
		// needing rejection on the field's exact boundary.
		buf[31] &= 0x0f
		s, err := scalarfield.DecodeScalar(buf)
		if err != nil {
			continue
		}
		if !s.IsZero() {
			return s, nil
		}
	}
	return scalarfield.Scalar{}, rerr.New(rerr.CodeInternal, "keystrategy: failed to generate a non-zero random share")
}

// KeygenFromClientVerifyingShare derives (or randomly generates, in kv
// mode) the server's half of the group key and combines it additively
// with the client's verifying share to produce the group public key.
func (s *Strategy) KeygenFromClientVerifyingShare(nearAccountID, rpID string, clientVerifyingShare []byte) (store.KeyMaterial, error) {
	clientPoint, err := scalarfield.DecodePoint(clientVerifyingShare)
	if err != nil {
		return store.KeyMaterial{}, err
	}

	var serverShare scalarfield.Scalar
	switch s.cfg.EffectiveMode() {
	case ShareModeDerived:
		serverShare, err = s.deriveServerSigningShare(nearAccountID, rpID, clientVerifyingShare)
		if err != nil {
			return store.KeyMaterial{}, rerr.Internal(err, "derive server signing share")
		}
	case ShareModeKV:
		serverShare, err = randomServerSigningShare()
		if err != nil {
			return store.KeyMaterial{}, err
		}
	default:
		return store.KeyMaterial{}, rerr.Newf(rerr.CodeMissingConfig, "unknown share mode %q", s.cfg.ShareMode)
	}
	defer serverShare.Zeroize()

	serverPoint := scalarfield.BasePointMul(serverShare)
	groupPoint, err := scalarfield.AddPoints(clientPoint, serverPoint)
	if err != nil {
		return store.KeyMaterial{}, err
	}

	relayerKeyID, err := PublicKeyToRelayerKeyID(groupPoint.EncodePoint())
	if err != nil {
		return store.KeyMaterial{}, err
	}

	material := store.KeyMaterial{
		RelayerKeyID:         relayerKeyID,
		PublicKey:            groupPoint.EncodePoint(),
		ServerVerifyingShare: serverPoint.EncodePoint(),
	}
	if s.cfg.EffectiveMode() == ShareModeKV {
		material.ServerSigningShare = serverShare.EncodeScalar()
	}
	return material, nil
}

// ResolveKeyMaterial returns the key material for relayerKeyId, in
// derived mode recomputing and verifying it matches, in kv mode reading
// it back from the KeyStore.
func (s *Strategy) ResolveKeyMaterial(ctx context.Context, relayerKeyID, nearAccountID, rpID string, clientVerifyingShare []byte) (store.KeyMaterial, error) {
	switch s.cfg.EffectiveMode() {
	case ShareModeKV:
		material, ok, err := s.keyStore.Get(ctx, relayerKeyID)
		if err != nil {
			return store.KeyMaterial{}, rerr.Internal(err, "resolve key material")
		}
		if !ok {
			return store.KeyMaterial{}, rerr.Newf(rerr.CodeMissingKey, "no key material for relayerKeyId %q", relayerKeyID)
		}
		return material, nil
	case ShareModeDerived:
		material, err := s.KeygenFromClientVerifyingShare(nearAccountID, rpID, clientVerifyingShare)
		if err != nil {
			return store.KeyMaterial{}, err
		}
		if material.RelayerKeyID != relayerKeyID {
			return store.KeyMaterial{}, rerr.Newf(rerr.CodeGroupPKMismatch, "derived key %q does not match requested relayerKeyId %q", material.RelayerKeyID, relayerKeyID)
		}
		return material, nil
	default:
		return store.KeyMaterial{}, rerr.Newf(rerr.CodeMissingConfig, "unknown share mode %q", s.cfg.ShareMode)
	}
}

// ServerSigningShareForFinalize returns the scalar the signing handlers
// need for round-2 partial-sign. In derived mode it recomputes on demand
// (never persisted); in kv mode it is read from the key material already
// resolved by the caller.
func (s *Strategy) ServerSigningShareForFinalize(nearAccountID, rpID string, clientVerifyingShare []byte, stored store.KeyMaterial) (scalarfield.Scalar, error) {
	if s.cfg.EffectiveMode() == ShareModeDerived {
		return s.deriveServerSigningShare(nearAccountID, rpID, clientVerifyingShare)
	}
	return scalarfield.DecodeScalar(stored.ServerSigningShare)
}
