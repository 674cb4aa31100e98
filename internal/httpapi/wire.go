package httpapi

import (
	"encoding/base64"

	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/store"
	"github.com/web3-authn/threshold-relayer/internal/validate"
)

func encodeB64U(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeB64U(field, v string) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return nil, rerr.Wrapf(rerr.CodeInvalidBody, err, "%s is not valid base64url", field)
	}
	return b, nil
}

// signingPayloadWire is the tagged-union wire shape for a signingPayload
// request field, keyed on "purpose".
type signingPayloadWire struct {
	Purpose           store.Purpose               `json:"purpose"`
	TxSigningRequests []validate.TxSigningRequest `json:"txSigningRequests,omitempty"`
	Delegate          *validate.DelegateRequest   `json:"delegate,omitempty"`
	Nep413            *validate.Nep413Request     `json:"nep413,omitempty"`
}

func (w signingPayloadWire) toPayload() (validate.Payload, error) {
	switch w.Purpose {
	case store.PurposeNearTx:
		if len(w.TxSigningRequests) == 0 {
			return validate.Payload{}, rerr.New(rerr.CodeInvalidBody, "near_tx signingPayload requires txSigningRequests")
		}
	case store.PurposeNep461Delegate:
		if w.Delegate == nil {
			return validate.Payload{}, rerr.New(rerr.CodeInvalidBody, "nep461_delegate signingPayload requires delegate")
		}
	case store.PurposeNep413:
		if w.Nep413 == nil {
			return validate.Payload{}, rerr.New(rerr.CodeInvalidBody, "nep413 signingPayload requires nep413")
		}
	default:
		return validate.Payload{}, rerr.Newf(rerr.CodeInvalidBody, "unknown signingPayload purpose %q", w.Purpose)
	}
	return validate.Payload{
		Purpose:           w.Purpose,
		TxSigningRequests: w.TxSigningRequests,
		Delegate:          w.Delegate,
		Nep413:            w.Nep413,
	}, nil
}

type commitmentsWire struct {
	Hiding  string `json:"hiding"`
	Binding string `json:"binding"`
}

func (w commitmentsWire) decode() (store.Commitments, error) {
	hiding, err := decodeB64U("commitments.hiding", w.Hiding)
	if err != nil {
		return store.Commitments{}, err
	}
	binding, err := decodeB64U("commitments.binding", w.Binding)
	if err != nil {
		return store.Commitments{}, err
	}
	return store.Commitments{Hiding: hiding, Binding: binding}, nil
}

func encodeCommitmentsWire(c store.Commitments) commitmentsWire {
	return commitmentsWire{
		Hiding:  base64.RawURLEncoding.EncodeToString(c.Hiding),
		Binding: base64.RawURLEncoding.EncodeToString(c.Binding),
	}
}
