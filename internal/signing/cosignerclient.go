package signing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/store"
)

// HTTPCosignerClient is the real CosignerClient: a plain net/http POST to
// a co-signer's internal endpoints, bearer-authenticated with the grant
// token, bounded by the caller's context deadline.
type HTTPCosignerClient struct {
	httpClient *http.Client
}

func NewHTTPCosignerClient() *HTTPCosignerClient {
	return &HTTPCosignerClient{httpClient: &http.Client{Timeout: 15 * time.Second}}
}

type wireCommitments struct {
	Hiding  string `json:"hiding"`
	Binding string `json:"binding"`
}

func encodeCommitments(c store.Commitments) wireCommitments {
	return wireCommitments{
		Hiding:  base64.RawURLEncoding.EncodeToString(c.Hiding),
		Binding: base64.RawURLEncoding.EncodeToString(c.Binding),
	}
}

func decodeCommitments(w wireCommitments) (store.Commitments, error) {
	hiding, err := base64.RawURLEncoding.DecodeString(w.Hiding)
	if err != nil {
		return store.Commitments{}, rerr.Wrap(rerr.CodeInternal, err, "decode peer hiding commitment")
	}
	binding, err := base64.RawURLEncoding.DecodeString(w.Binding)
	if err != nil {
		return store.Commitments{}, rerr.Wrap(rerr.CodeInternal, err, "decode peer binding commitment")
	}
	return store.Commitments{Hiding: hiding, Binding: binding}, nil
}

type cosignInitWire struct {
	Grant         string `json:"grant"`
	SubShare      string `json:"subShareB64u"`
	SigningDigest string `json:"signingDigestB64u"`
}

type cosignInitResponseWire struct {
	PeerSigningSessionID string          `json:"peerSigningSessionId"`
	Commitment           wireCommitments `json:"commitment"`
}

func (c *HTTPCosignerClient) CosignInit(ctx context.Context, baseURL string, req CosignInitRequest) (CosignInitResponse, error) {
	body, err := json.Marshal(cosignInitWire{
		Grant:         req.Grant,
		SubShare:      base64.RawURLEncoding.EncodeToString(req.SubShare),
		SigningDigest: base64.RawURLEncoding.EncodeToString(req.SigningDigest),
	})
	if err != nil {
		return CosignInitResponse{}, rerr.Internal(err, "marshal cosign/init request")
	}
	var wire cosignInitResponseWire
	if err := c.postJSON(ctx, baseURL+"/internal/cosign/init", req.Grant, body, &wire); err != nil {
		return CosignInitResponse{}, err
	}
	commitment, err := decodeCommitments(wire.Commitment)
	if err != nil {
		return CosignInitResponse{}, err
	}
	return CosignInitResponse{PeerSigningSessionID: wire.PeerSigningSessionID, Commitment: commitment}, nil
}

type cosignFinalizeWire struct {
	Grant                    string                     `json:"grant"`
	PeerSigningSessionID     string                     `json:"peerSigningSessionId"`
	CommitmentsByParticipant map[string]wireCommitments `json:"commitmentsByParticipant"`
	ServerParticipantID      int                        `json:"serverParticipantId"`
	CosignerIDs              []int                      `json:"cosignerIds"`
	SigningDigest            string                     `json:"signingDigestB64u"`
	GroupPublicKey           string                     `json:"groupPublicKeyB64u"`
}

type cosignFinalizeResponseWire struct {
	PartialSignatureShare string `json:"partialSignatureShareB64u"`
}

func (c *HTTPCosignerClient) CosignFinalize(ctx context.Context, baseURL string, req CosignFinalizeRequest) (CosignFinalizeResponse, error) {
	byParticipant := make(map[string]wireCommitments, len(req.CommitmentsByParticipant))
	for id, commitment := range req.CommitmentsByParticipant {
		byParticipant[strconv.Itoa(id)] = encodeCommitments(commitment)
	}
	body, err := json.Marshal(cosignFinalizeWire{
		Grant:                    req.Grant,
		PeerSigningSessionID:     req.PeerSigningSessionID,
		CommitmentsByParticipant: byParticipant,
		ServerParticipantID:      req.ServerParticipantID,
		CosignerIDs:              req.CosignerIDs,
		SigningDigest:            base64.RawURLEncoding.EncodeToString(req.SigningDigest),
		GroupPublicKey:           base64.RawURLEncoding.EncodeToString(req.GroupPublicKey),
	})
	if err != nil {
		return CosignFinalizeResponse{}, rerr.Internal(err, "marshal cosign/finalize request")
	}
	var wire cosignFinalizeResponseWire
	if err := c.postJSON(ctx, baseURL+"/internal/cosign/finalize", req.Grant, body, &wire); err != nil {
		return CosignFinalizeResponse{}, err
	}
	share, err := base64.RawURLEncoding.DecodeString(wire.PartialSignatureShare)
	if err != nil {
		return CosignFinalizeResponse{}, rerr.Wrap(rerr.CodeInternal, err, "decode peer partial signature share")
	}
	return CosignFinalizeResponse{PartialSignatureShare: share}, nil
}

func (c *HTTPCosignerClient) postJSON(ctx context.Context, url, bearer string, body []byte, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return rerr.Internal(err, "build cosigner request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return rerr.Wrap(rerr.CodeInternal, err, "cosigner call timed out")
		}
		return rerr.Wrap(rerr.CodeUnavailable, err, "cosigner call failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rerr.Newf(rerr.CodeUnavailable, "cosigner returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return rerr.Wrap(rerr.CodeInternal, err, "decode cosigner response")
	}
	return nil
}
