package keystrategy

import (
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/decred/dcrd/dcrec/edwards/v2"

	"github.com/web3-authn/threshold-relayer/internal/rerr"
)

const relayerKeyIDPrefix = "ed25519:"

// PublicKeyToRelayerKeyID formats a 32-byte Ed25519 public key as the
// wire convention's relayerKeyId: the literal "ed25519:" prefix followed
// by the base58 encoding of the raw key bytes. Before encoding, the key
// is round-tripped through decred's edwards/v2 parser as a format sanity
// check — the same library the teacher uses to serialize Ed25519 public
// keys (mpc/eddsa/ed.keygen.go).
func PublicKeyToRelayerKeyID(pub []byte) (string, error) {
	if len(pub) != 32 {
		return "", rerr.Newf(rerr.CodeInvalidBody, "public key must be 32 bytes, got %d", len(pub))
	}
	parsed, err := edwards.ParsePubKey(pub)
	if err != nil {
		return "", rerr.Wrap(rerr.CodeInvalidBody, err, "public key is not a valid Ed25519 curve point")
	}
	return relayerKeyIDPrefix + base58.Encode(parsed.SerializeCompressed()), nil
}

// ParseRelayerKeyID inverts PublicKeyToRelayerKeyID.
func ParseRelayerKeyID(relayerKeyID string) ([]byte, error) {
	if !strings.HasPrefix(relayerKeyID, relayerKeyIDPrefix) {
		return nil, rerr.Newf(rerr.CodeInvalidBody, "relayerKeyId must start with %q", relayerKeyIDPrefix)
	}
	raw := base58.Decode(strings.TrimPrefix(relayerKeyID, relayerKeyIDPrefix))
	if len(raw) != 32 {
		return nil, rerr.New(rerr.CodeInvalidBody, "relayerKeyId does not decode to a 32-byte key")
	}
	return raw, nil
}
