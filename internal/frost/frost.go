// Package frost implements the two-round FROST-style commit/partial-sign
// protocol over Ed25519: round-1 hiding/binding nonce commitment, and
// round-2 binding-factor-weighted partial signature shares that sum to a
// standard RFC 8032 Ed25519 signature once every participant's share is
// combined (aggregation itself is the client's responsibility, outside
// this package). The scalar/point primitives are scalarfield's; the
// round-by-round shape is grounded on the teacher's eddsa/signing
// round_2.go/round_3.go/finalize.go Schnorr-commit-then-respond structure,
// generalized from a single nonce per party to FROST's hiding+binding
// nonce pair and per-participant binding factor.
package frost

import (
	"crypto/rand"
	"sort"

	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/scalarfield"
)

const bindingFactorDomain = "w3a/threshold-ed25519/frost-binding_v1"

// NonceSecret is one participant's round-1 secret state, held between
// commit and partial-sign.
type NonceSecret struct {
	Hiding  scalarfield.Scalar
	Binding scalarfield.Scalar
}

// Commitment is one participant's round-1 public commitment.
type Commitment struct {
	Hiding  scalarfield.Point
	Binding scalarfield.Point
}

func randomNonzeroScalar() (scalarfield.Scalar, error) {
	for i := 0; i < 8; i++ {
		buf := make([]byte, scalarfield.ScalarSize)
		if _, err := rand.Read(buf); err != nil {
			return scalarfield.Scalar{}, rerr.Internal(err, "frost: read random nonce")
		}
		buf[31] &= 0x0f
		s, err := scalarfield.DecodeScalar(buf)
		if err != nil {
			continue
		}
		if !s.IsZero() {
			return s, nil
		}
	}
	return scalarfield.Scalar{}, rerr.New(rerr.CodeInternal, "frost: failed to generate a non-zero nonce")
}

// Commit runs round 1: generate a fresh hiding/binding nonce pair and
// return both the secret the participant must hold until round 2 and the
// public commitment it publishes.
func Commit() (NonceSecret, Commitment, error) {
	hiding, err := randomNonzeroScalar()
	if err != nil {
		return NonceSecret{}, Commitment{}, err
	}
	binding, err := randomNonzeroScalar()
	if err != nil {
		return NonceSecret{}, Commitment{}, err
	}
	secret := NonceSecret{Hiding: hiding, Binding: binding}
	commitment := Commitment{Hiding: scalarfield.BasePointMul(hiding), Binding: scalarfield.BasePointMul(binding)}
	return secret, commitment, nil
}

func sortedIDs(commitmentsByID map[int]Commitment) []int {
	ids := make([]int, 0, len(commitmentsByID))
	for id := range commitmentsByID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// encodeCommitmentList canonically encodes the full commitment set (every
// participant's hiding||binding bytes, in ascending id order) so that
// every participant computes an identical binding factor input.
func encodeCommitmentList(commitmentsByID map[int]Commitment, ids []int) []byte {
	out := make([]byte, 0, len(ids)*2*scalarfield.PointSize)
	for _, id := range ids {
		c := commitmentsByID[id]
		out = append(out, c.Hiding.EncodePoint()...)
		out = append(out, c.Binding.EncodePoint()...)
	}
	return out
}

// BindingFactor computes participant id's rho_i, binding its hiding and
// binding nonces to this specific signing digest and the full commitment
// set so a commitment cannot be replayed against a different message.
func BindingFactor(participantID int, signingDigest []byte, commitmentsByID map[int]Commitment) (scalarfield.Scalar, error) {
	ids := sortedIDs(commitmentsByID)
	idScalarBytes, err := scalarfield.U16ToScalarBytes(participantID)
	if err != nil {
		return scalarfield.Scalar{}, err
	}
	return scalarfield.HashToScalar(
		[]byte(bindingFactorDomain),
		idScalarBytes.EncodeScalar(),
		signingDigest,
		encodeCommitmentList(commitmentsByID, ids),
	)
}

// GroupCommitment computes R = sum_i (D_i + rho_i * E_i) over every
// participant in commitmentsByID, using each participant's own binding
// factor.
func GroupCommitment(signingDigest []byte, commitmentsByID map[int]Commitment) (scalarfield.Point, map[int]scalarfield.Scalar, error) {
	ids := sortedIDs(commitmentsByID)
	bindingFactors := make(map[int]scalarfield.Scalar, len(ids))
	terms := make([]scalarfield.Point, 0, len(ids))
	for _, id := range ids {
		rho, err := BindingFactor(id, signingDigest, commitmentsByID)
		if err != nil {
			return scalarfield.Point{}, nil, err
		}
		bindingFactors[id] = rho
		c := commitmentsByID[id]
		terms = append(terms, c.Hiding, scalarfield.ScalarMul(rho, c.Binding))
	}
	R, err := scalarfield.AddPoints(terms...)
	if err != nil {
		return scalarfield.Point{}, nil, err
	}
	return R, bindingFactors, nil
}

// Challenge computes the standard RFC 8032 Ed25519 challenge
// c = SHA-512(R || A || M) mod L, so the combined signature is a plain
// Ed25519 signature verifiable with no knowledge of this protocol.
func Challenge(groupCommitment scalarfield.Point, groupPublicKey, signingDigest []byte) (scalarfield.Scalar, error) {
	return scalarfield.HashToScalar(groupCommitment.EncodePoint(), groupPublicKey, signingDigest)
}

// PartialSign computes one participant's signature share
// z_i = d_i + rho_i * e_i + c * lambda_i * share_i. lambda should be the
// scalar 1 (scalarfield.U16ToScalarBytes(1)) for a participant whose share
// is not Lagrange-weighted (the two-party client/server additive split);
// it is the co-signer's Lagrange-at-zero coefficient in cosigner mode.
func PartialSign(nonce NonceSecret, bindingFactor, challenge, lambda, share scalarfield.Scalar) (scalarfield.Scalar, error) {
	boundE, err := scalarfield.Mul(bindingFactor, nonce.Binding)
	if err != nil {
		return scalarfield.Scalar{}, err
	}
	weightedShare, err := scalarfield.Mul(lambda, share)
	if err != nil {
		return scalarfield.Scalar{}, err
	}
	challengeTerm, err := scalarfield.Mul(challenge, weightedShare)
	if err != nil {
		return scalarfield.Scalar{}, err
	}
	return scalarfield.AddScalars(nonce.Hiding, boundE, challengeTerm)
}

// CombineSignatureShares sums every participant's partial signature share
// mod L; the caller pairs the result with the group commitment's encoding
// to form the final (R, s) Ed25519 signature.
func CombineSignatureShares(shares ...scalarfield.Scalar) (scalarfield.Scalar, error) {
	return scalarfield.AddScalars(shares...)
}
