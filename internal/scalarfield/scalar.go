// Package scalarfield implements modular arithmetic over the Ed25519
// scalar field L = 2^252 + 27742317777372353535851937790883648493, and the
// companion Edwards-curve point operations needed to aggregate
// commitments and verifying shares. All arithmetic is delegated to
// filippo.io/edwards25519, which the teacher library itself already uses
// for this exact purpose (see eddsa/signing/utils.go, round_3.go) rather
// than hand-rolling field reduction.
package scalarfield

import (
	"crypto/sha512"
	"encoding/binary"

	"filippo.io/edwards25519"
	"github.com/pkg/errors"

	"github.com/web3-authn/threshold-relayer/internal/rerr"
)

// Scalar is a canonical element of [0, L).
type Scalar struct {
	s *edwards25519.Scalar
}

// ScalarSize is the width of the little-endian wire encoding.
const ScalarSize = 32

// DecodeScalar parses a canonical little-endian 32-byte scalar.
func DecodeScalar(b []byte) (Scalar, error) {
	if len(b) != ScalarSize {
		return Scalar{}, rerr.Newf(rerr.CodeInvalidBody, "scalar must be %d bytes, got %d", ScalarSize, len(b))
	}
	s, err := edwards25519.NewScalar().SetCanonicalBytes(b)
	if err != nil {
		return Scalar{}, rerr.Wrap(rerr.CodeInvalidBody, err, "scalar is not a canonical representative mod L")
	}
	return Scalar{s: s}, nil
}

// EncodeScalar returns the canonical little-endian 32-byte encoding.
func (s Scalar) EncodeScalar() []byte {
	out := make([]byte, ScalarSize)
	copy(out, s.s.Bytes())
	return out
}

// IsZero reports whether s is the additive identity.
func (s Scalar) IsZero() bool {
	zero := edwards25519.NewScalar()
	return s.s.Equal(zero) == 1
}

func newFromRaw(raw *edwards25519.Scalar) Scalar { return Scalar{s: raw} }

// AddScalars sums one or more scalars mod L, failing closed if the result
// is zero (treated as an integrity failure per the arithmetic-zero rule).
func AddScalars(scalars ...Scalar) (Scalar, error) {
	if len(scalars) == 0 {
		return Scalar{}, rerr.New(rerr.CodeInternal, "add: no operands")
	}
	acc := edwards25519.NewScalar().Set(scalars[0].s)
	for _, next := range scalars[1:] {
		acc = acc.Add(acc, next.s)
	}
	out := newFromRaw(acc)
	if out.IsZero() {
		return Scalar{}, rerr.New(rerr.CodeInternal, "add: sum is zero")
	}
	return out, nil
}

// Mul multiplies two scalars mod L, failing closed on a zero product.
func Mul(a, b Scalar) (Scalar, error) {
	out := newFromRaw(edwards25519.NewScalar().Multiply(a.s, b.s))
	if out.IsZero() {
		return Scalar{}, rerr.New(rerr.CodeInternal, "mul: product is zero")
	}
	return out, nil
}

// Sub computes a - b mod L.
func Sub(a, b Scalar) Scalar {
	neg := edwards25519.NewScalar().Negate(b.s)
	return newFromRaw(edwards25519.NewScalar().Add(a.s, neg))
}

// Inv returns the multiplicative inverse of s mod L, failing closed on a
// non-invertible (zero) input.
func Inv(s Scalar) (Scalar, error) {
	if s.IsZero() {
		return Scalar{}, rerr.New(rerr.CodeInternal, "inv: input is zero, not invertible")
	}
	return newFromRaw(edwards25519.NewScalar().Invert(s.s)), nil
}

// HashToScalar concatenates chunks, hashes with SHA-512, and reduces the
// 64-byte digest mod L.
func HashToScalar(chunks ...[]byte) (Scalar, error) {
	h := sha512.New()
	for _, c := range chunks {
		if _, err := h.Write(c); err != nil {
			return Scalar{}, errors.Wrap(err, "hash_to_scalar: write")
		}
	}
	digest := h.Sum(nil)
	s, err := edwards25519.NewScalar().SetUniformBytes(digest)
	if err != nil {
		return Scalar{}, errors.Wrap(err, "hash_to_scalar: reduce")
	}
	return newFromRaw(s), nil
}

// U16ToScalarBytes encodes a participant or co-signer id in [1, 65535] as
// the little-endian 32-byte scalar x used in Lagrange interpolation.
func U16ToScalarBytes(id int) (Scalar, error) {
	if id < 1 || id > 65535 {
		return Scalar{}, rerr.Newf(rerr.CodeInvalidBody, "id %d out of range [1,65535]", id)
	}
	buf := make([]byte, ScalarSize)
	binary.LittleEndian.PutUint16(buf, uint16(id))
	s, err := edwards25519.NewScalar().SetCanonicalBytes(buf)
	if err != nil {
		return Scalar{}, errors.Wrap(err, "u16_to_scalar_bytes: encode")
	}
	return newFromRaw(s), nil
}

// Zeroize overwrites the scalar's backing bytes, used after a single
// handler call resolves a server signing share in derived-share mode.
func (s *Scalar) Zeroize() {
	if s.s == nil {
		return
	}
	// Set writes zero into the existing backing scalar in place.
	s.s.Set(edwards25519.NewScalar())
}
