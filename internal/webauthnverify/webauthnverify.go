// Package webauthnverify is the external collaborator boundary for
// WebAuthn assertion verification. Verification itself is delegated (the
// relayer core never re-implements signature checking over an
// authenticator response) but the wire types for a parsed assertion come
// straight from github.com/go-webauthn/webauthn/protocol, grounded on the
// CredentialAssertion / ParseCredentialRequestResponseBody usage seen in
// other_examples' gravitational-teleport reference file.
package webauthnverify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/web3-authn/threshold-relayer/internal/rerr"
)

// AuthenticationRequest is what AuthorizeService/SessionService/
// KeygenService pass to the injected verifier: the raw assertion JSON the
// client returned plus the binding context it must have signed over.
type AuthenticationRequest struct {
	RawAssertionJSON []byte
	ExpectedRPID     string
	ExpectedUserID   string
	ExpectedChallenge []byte
}

// Result mirrors the taxonomy every verifier in this codebase returns:
// ok, or a structured code/message.
type Result struct {
	Success  bool
	Verified bool
	Code     string
	Message  string
}

// Verifier is the injected collaborator. A production deployment wires
// it to a real WebAuthn relying-party verification service; tests wire a
// stub.
type Verifier interface {
	VerifyAuthenticationResponse(ctx context.Context, req AuthenticationRequest) (Result, error)
}

// HTTPVerifier is a Verifier that delegates to an external relying-party
// verification service over HTTP, mirroring internal/nearclient's
// thin-JSON-client idiom for the other external collaborator this
// core depends on.
type HTTPVerifier struct {
	verifyURL string
	http      *http.Client
}

func NewHTTPVerifier(verifyURL string) *HTTPVerifier {
	return &HTTPVerifier{verifyURL: verifyURL, http: &http.Client{Timeout: 15 * time.Second}}
}

type verifyRequestWire struct {
	RawAssertionJSON  json.RawMessage `json:"rawAssertionJson"`
	ExpectedRPID      string          `json:"expectedRpId"`
	ExpectedUserID    string          `json:"expectedUserId"`
	ExpectedChallenge string          `json:"expectedChallengeB64u"`
}

func (v *HTTPVerifier) VerifyAuthenticationResponse(ctx context.Context, req AuthenticationRequest) (Result, error) {
	if _, err := ParseAssertion(req.RawAssertionJSON); err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(verifyRequestWire{
		RawAssertionJSON:  req.RawAssertionJSON,
		ExpectedRPID:      req.ExpectedRPID,
		ExpectedUserID:    req.ExpectedUserID,
		ExpectedChallenge: b64u(req.ExpectedChallenge),
	})
	if err != nil {
		return Result{}, rerr.Internal(err, "webauthnverify: marshal verification request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, rerr.Internal(err, "webauthnverify: build verification request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(httpReq)
	if err != nil {
		return Result{}, rerr.Wrap(rerr.CodeUnavailable, err, "webauthnverify: verification service unreachable")
	}
	defer resp.Body.Close()

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, rerr.Wrap(rerr.CodeInternal, err, "webauthnverify: decode verification response")
	}
	return out, nil
}

// ParseAssertion decodes the raw client response into go-webauthn's typed
// assertion structure, the first step any real Verifier implementation
// performs before checking the signature.
func ParseAssertion(raw []byte) (*protocol.ParsedCredentialAssertionData, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(raw))
	if err != nil {
		return nil, rerr.Wrap(rerr.CodeInvalidBody, err, "webauthnverify: malformed assertion response")
	}
	return parsed, nil
}

func b64u(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
