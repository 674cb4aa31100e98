package scalarfield

import (
	"filippo.io/edwards25519"

	"github.com/web3-authn/threshold-relayer/internal/rerr"
)

// Point is a 32-byte canonically-encoded point on the Ed25519 twisted
// Edwards curve, used for verifying shares and round-1 commitments.
type Point struct {
	p *edwards25519.Point
}

// PointSize is the width of the compressed wire encoding.
const PointSize = 32

// DecodePoint parses a canonical compressed Edwards point.
func DecodePoint(b []byte) (Point, error) {
	if len(b) != PointSize {
		return Point{}, rerr.Newf(rerr.CodeInvalidBody, "point must be %d bytes, got %d", PointSize, len(b))
	}
	p, err := edwards25519.NewIdentityPoint().SetBytes(b)
	if err != nil {
		return Point{}, rerr.Wrap(rerr.CodeInvalidBody, err, "point is not a valid curve encoding")
	}
	return Point{p: p}, nil
}

// EncodePoint returns the canonical compressed 32-byte encoding.
func (p Point) EncodePoint() []byte {
	out := make([]byte, PointSize)
	copy(out, p.p.Bytes())
	return out
}

// BasePointMul computes s*G, the standard base-point scalar multiplication
// used to turn a signing share into its verifying share.
func BasePointMul(s Scalar) Point {
	return Point{p: edwards25519.NewIdentityPoint().ScalarBaseMult(s.s)}
}

// ScalarMul computes s*P.
func ScalarMul(s Scalar, p Point) Point {
	return Point{p: edwards25519.NewIdentityPoint().ScalarMult(s.s, p.p)}
}

// AddPoints sums one or more points via Edwards-curve point addition —
// the operation commitment aggregation and verifying-key combination use,
// as distinct from scalar addition.
func AddPoints(points ...Point) (Point, error) {
	if len(points) == 0 {
		return Point{}, rerr.New(rerr.CodeInternal, "point_sum: no operands")
	}
	acc := edwards25519.NewIdentityPoint().Set(points[0].p)
	for _, next := range points[1:] {
		acc = acc.Add(acc, next.p)
	}
	out := Point{p: acc}
	if out.isIdentity() {
		return Point{}, rerr.New(rerr.CodeInternal, "point_sum: result is the identity element")
	}
	return out, nil
}

func (p Point) isIdentity() bool {
	return p.p.Equal(edwards25519.NewIdentityPoint()) == 1
}

// Equal reports whether p and q encode the same point.
func (p Point) Equal(q Point) bool {
	return p.p.Equal(q.p) == 1
}
