package scalarfield

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddPoints_LinearWithBaseMul(t *testing.T) {
	a := randomNonZeroScalar(t)
	b := randomNonZeroScalar(t)
	sum, err := AddScalars(a, b)
	require.NoError(t, err)

	pa := BasePointMul(a)
	pb := BasePointMul(b)
	psum := BasePointMul(sum)

	combined, err := AddPoints(pa, pb)
	require.NoError(t, err)
	require.True(t, combined.Equal(psum))
}

func TestPoint_EncodeDecodeRoundTrips(t *testing.T) {
	s := randomNonZeroScalar(t)
	p := BasePointMul(s)
	enc := p.EncodePoint()
	decoded, err := DecodePoint(enc)
	require.NoError(t, err)
	require.True(t, p.Equal(decoded))
}

func TestDecodePoint_RejectsWrongLength(t *testing.T) {
	_, err := DecodePoint(make([]byte, 31))
	require.Error(t, err)
}
