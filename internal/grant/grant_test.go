package grant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/web3-authn/threshold-relayer/internal/store"
)

func samplePayload(now time.Time) Payload {
	return Payload{
		V:            1,
		Typ:          TypeCosignerGrant,
		Iat:          now.Unix(),
		Exp:          now.Add(time.Minute).Unix(),
		MpcSessionID: "sess-1",
		MpcSession:   store.MpcSession{ExpiresAtMs: now.Add(time.Minute).UnixMilli()},
	}
}

func TestSignVerify_RoundTrips(t *testing.T) {
	codec := NewCodec([]byte("super-secret-key-32-bytes-long!"))
	now := time.Now()
	token, err := codec.Sign(samplePayload(now))
	require.NoError(t, err)

	payload, err := codec.Verify(token, TypeCosignerGrant, now)
	require.NoError(t, err)
	require.Equal(t, "sess-1", payload.MpcSessionID)
}

func TestVerify_WrongTypeRejected(t *testing.T) {
	codec := NewCodec([]byte("secret"))
	now := time.Now()
	token, err := codec.Sign(samplePayload(now))
	require.NoError(t, err)

	_, err = codec.Verify(token, TypeCoordinatorGrant, now)
	require.Error(t, err)
}

func TestVerify_BitFlipInSignatureRejected(t *testing.T) {
	codec := NewCodec([]byte("secret"))
	now := time.Now()
	token, err := codec.Sign(samplePayload(now))
	require.NoError(t, err)

	flipped := []byte(token)
	flipped[len(flipped)-1] ^= 0x01
	_, err = codec.Verify(string(flipped), TypeCosignerGrant, now)
	require.Error(t, err)
}

func TestVerify_BitFlipInPayloadRejected(t *testing.T) {
	codec := NewCodec([]byte("secret"))
	now := time.Now()
	token, err := codec.Sign(samplePayload(now))
	require.NoError(t, err)

	flipped := []byte(token)
	flipped[0] ^= 0x01
	_, err = codec.Verify(string(flipped), TypeCosignerGrant, now)
	require.Error(t, err)
}

func TestVerify_ExpiredRejected(t *testing.T) {
	codec := NewCodec([]byte("secret"))
	past := time.Now().Add(-time.Hour)
	token, err := codec.Sign(samplePayload(past))
	require.NoError(t, err)

	_, err = codec.Verify(token, TypeCosignerGrant, time.Now())
	require.Error(t, err)
}

func TestVerify_MalformedTokenRejected(t *testing.T) {
	codec := NewCodec([]byte("secret"))
	_, err := codec.Verify("not-a-valid-token", TypeCosignerGrant, time.Now())
	require.Error(t, err)
}
