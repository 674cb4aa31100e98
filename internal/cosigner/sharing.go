// Package cosigner implements a deterministic Shamir (t, n) reshare of the
// relayer's Ed25519 signing scalar into co-signer sub-shares, and the
// Lagrange-at-zero combination needed to recombine a selected subset of
// sub-shares back into the original scalar. The reconstruction arithmetic
// is grounded on the teacher library's Feldman VSS implementation
// (crypto/vss/feldman_vss.go), adapted from big.Int/elliptic.Curve to
// filippo.io/edwards25519 scalars and generalized from verifiable secret
// sharing to the plain deterministic reshare this protocol needs.
package cosigner

import (
	"encoding/binary"

	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/scalarfield"
)

const coefficientDomain = "w3a/threshold-ed25519/cosigner-poly_v1"

// DeriveCoefficients returns the t coefficients a_0..a_{t-1} of the
// degree-(t-1) polynomial used to reshare serverShare. a_0 is the share
// itself; every higher coefficient is derived deterministically so that
// independent co-signer processes agree on the same polynomial without
// exchanging state.
func DeriveCoefficients(serverShare scalarfield.Scalar, t int) ([]scalarfield.Scalar, error) {
	if t < 1 {
		return nil, rerr.Newf(rerr.CodeInvalidBody, "threshold t must be >= 1, got %d", t)
	}
	coeffs := make([]scalarfield.Scalar, t)
	coeffs[0] = serverShare

	tLE := make([]byte, 4)
	binary.LittleEndian.PutUint32(tLE, uint32(t))
	a0Bytes := serverShare.EncodeScalar()

	for i := 1; i < t; i++ {
		iLE := make([]byte, 4)
		binary.LittleEndian.PutUint32(iLE, uint32(i))
		coeff, err := scalarfield.HashToScalar([]byte(coefficientDomain), tLE, a0Bytes, iLE)
		if err != nil {
			return nil, rerr.Internal(err, "derive co-signer polynomial coefficient")
		}
		coeffs[i] = coeff
	}
	return coeffs, nil
}

// SubShare evaluates the polynomial at x = id (Horner's method), yielding
// the sub-share handed to co-signer id.
func SubShare(coeffs []scalarfield.Scalar, id int) (scalarfield.Scalar, error) {
	x, err := scalarfield.U16ToScalarBytes(id)
	if err != nil {
		return scalarfield.Scalar{}, err
	}
	if len(coeffs) == 0 {
		return scalarfield.Scalar{}, rerr.New(rerr.CodeInternal, "sub_share: empty coefficient set")
	}
	acc := coeffs[len(coeffs)-1]
	for i := len(coeffs) - 2; i >= 0; i-- {
		product, err := scalarfield.Mul(acc, x)
		if err != nil {
			return scalarfield.Scalar{}, rerr.Internal(err, "sub_share: horner multiply")
		}
		sum, err := scalarfield.AddScalars(product, coeffs[i])
		if err != nil {
			return scalarfield.Scalar{}, rerr.Internal(err, "sub_share: horner add")
		}
		acc = sum
	}
	if acc.IsZero() {
		return scalarfield.Scalar{}, rerr.Newf(rerr.CodeInternal, "sub_share: evaluation at id %d is zero", id)
	}
	return acc, nil
}

// LagrangeCoefficientAtZero computes lambda_i for participant i within
// the selected subset ids, the coefficient that weights share(i) so that
// sum_i lambda_i * share(i) reconstructs the polynomial's value at x=0.
func LagrangeCoefficientAtZero(ids []int, i int) (scalarfield.Scalar, error) {
	xi, err := scalarfield.U16ToScalarBytes(i)
	if err != nil {
		return scalarfield.Scalar{}, err
	}

	found := false
	num := (*scalarfield.Scalar)(nil)
	den := (*scalarfield.Scalar)(nil)
	for _, j := range ids {
		if j == i {
			found = true
			continue
		}
		xj, err := scalarfield.U16ToScalarBytes(j)
		if err != nil {
			return scalarfield.Scalar{}, err
		}
		diff := scalarfield.Sub(xj, xi)
		if diff.IsZero() {
			return scalarfield.Scalar{}, rerr.Newf(rerr.CodeInternal, "lagrange: duplicate id %d in subset", j)
		}

		if num == nil {
			n := xj
			num = &n
			d := diff
			den = &d
			continue
		}
		nProd, err := scalarfield.Mul(*num, xj)
		if err != nil {
			return scalarfield.Scalar{}, rerr.Internal(err, "lagrange: numerator multiply")
		}
		dProd, err := scalarfield.Mul(*den, diff)
		if err != nil {
			return scalarfield.Scalar{}, rerr.Internal(err, "lagrange: denominator multiply")
		}
		num, den = &nProd, &dProd
	}
	if !found {
		return scalarfield.Scalar{}, rerr.Newf(rerr.CodeInvalidBody, "lagrange: id %d not present in subset", i)
	}
	if num == nil {
		// Singleton subset: lambda_i == 1.
		one, err := scalarfield.DecodeScalar(oneBytes())
		if err != nil {
			return scalarfield.Scalar{}, rerr.Internal(err, "lagrange: build identity scalar")
		}
		return one, nil
	}

	denInv, err := scalarfield.Inv(*den)
	if err != nil {
		return scalarfield.Scalar{}, err
	}
	lambda, err := scalarfield.Mul(*num, denInv)
	if err != nil {
		return scalarfield.Scalar{}, err
	}
	return lambda, nil
}

func oneBytes() []byte {
	b := make([]byte, scalarfield.ScalarSize)
	b[0] = 1
	return b
}

// CombineShares recombines a subset of co-signer sub-shares into the
// original server share: sum_i lambda_i * share(i), for i in ids.
func CombineShares(ids []int, shareByID map[int]scalarfield.Scalar) (scalarfield.Scalar, error) {
	if len(ids) == 0 {
		return scalarfield.Scalar{}, rerr.New(rerr.CodeInternal, "combine: empty subset")
	}
	terms := make([]scalarfield.Scalar, 0, len(ids))
	for _, id := range ids {
		share, ok := shareByID[id]
		if !ok {
			return scalarfield.Scalar{}, rerr.Newf(rerr.CodeInternal, "combine: missing share for id %d", id)
		}
		lambda, err := LagrangeCoefficientAtZero(ids, id)
		if err != nil {
			return scalarfield.Scalar{}, err
		}
		term, err := scalarfield.Mul(lambda, share)
		if err != nil {
			return scalarfield.Scalar{}, err
		}
		terms = append(terms, term)
	}
	return scalarfield.AddScalars(terms...)
}
