// Package keygen implements KeygenService: binding a client verifying
// share to a group key, either via a verified on-chain registration
// transaction or a directly-verified WebAuthn assertion bound by an
// intent digest.
package keygen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"

	"github.com/web3-authn/threshold-relayer/internal/canonical"
	"github.com/web3-authn/threshold-relayer/internal/keystrategy"
	"github.com/web3-authn/threshold-relayer/internal/log"
	"github.com/web3-authn/threshold-relayer/internal/nearclient"
	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/store"
	"github.com/web3-authn/threshold-relayer/internal/webauthnverify"
)

var logger = log.New("keygen")

// VRFData carries the VRF-bound intent context for the assertion-based
// keygen path.
type VRFData struct {
	UserID        string
	RpID          string
	IntentDigest32 []byte
}

// Input is the tagged-union request shape: exactly one of
// RegistrationTxHash or VRFData+WebAuthnAuthentication is populated.
type Input struct {
	RegistrationTxHash     string
	VRFData                *VRFData
	WebAuthnAuthentication []byte

	NearAccountID        string
	ClientVerifyingShare []byte
}

// Result is what a successful keygen call returns to the caller.
type Result struct {
	RelayerKeyID          string
	PublicKey             []byte
	RelayerVerifyingShare []byte
	ParticipantIDs        []int
}

// registrationCallArgs is the subset of the on-chain call's args needed
// to confirm success and (in derived mode) recover rpId.
type registrationCallArgs struct {
	RpID string `json:"rp_id"`
}

type registrationSuccessValue struct {
	Verified bool `json:"verified"`
}

// Service wires KeygenService's collaborators.
type Service struct {
	strategy                  *keystrategy.Strategy
	keyStore                  store.KeyStore
	nearClient                nearclient.Client
	verifier                  webauthnverify.Verifier
	registrationMethodName    string
	registrationExpectedReceiver string
	shareMode                 keystrategy.ShareMode
	clientParticipantID       int
	relayerParticipantID      int
}

func New(strategy *keystrategy.Strategy, keyStore store.KeyStore, nearClient nearclient.Client, verifier webauthnverify.Verifier, shareMode keystrategy.ShareMode, clientParticipantID, relayerParticipantID int, registrationExpectedReceiver string) *Service {
	return &Service{
		strategy:                     strategy,
		keyStore:                     keyStore,
		nearClient:                   nearClient,
		verifier:                     verifier,
		registrationMethodName:       "link_device_register_user",
		registrationExpectedReceiver: registrationExpectedReceiver,
		shareMode:                    shareMode,
		clientParticipantID:          clientParticipantID,
		relayerParticipantID:         relayerParticipantID,
	}
}

func (s *Service) participantIDs() []int {
	ids := []int{s.clientParticipantID, s.relayerParticipantID}
	sort.Ints(ids)
	return ids
}

// Keygen runs the full KeygenService flow and returns the bound key
// material's public identifiers.
func (s *Service) Keygen(ctx context.Context, input Input) (Result, error) {
	var rpID string

	switch {
	case input.RegistrationTxHash != "":
		rp, err := s.verifyRegistrationTx(ctx, input)
		if err != nil {
			return Result{}, err
		}
		rpID = rp

	case input.VRFData != nil:
		if err := s.verifyAssertionBoundKeygen(ctx, input); err != nil {
			return Result{}, err
		}
		rpID = input.VRFData.RpID

	default:
		return Result{}, rerr.New(rerr.CodeInvalidBody, "keygen requires either registrationTxHash or vrf_data+webauthn_authentication")
	}

	material, err := s.strategy.KeygenFromClientVerifyingShare(input.NearAccountID, rpID, input.ClientVerifyingShare)
	if err != nil {
		return Result{}, err
	}
	if material.ServerSigningShare != nil {
		if err := s.keyStore.Put(ctx, material.RelayerKeyID, material); err != nil {
			return Result{}, rerr.Internal(err, "persist key material")
		}
	}

	logger.Infof("keygen bound relayerKeyId=%s account=%s", material.RelayerKeyID, input.NearAccountID)
	return Result{
		RelayerKeyID:          material.RelayerKeyID,
		PublicKey:             material.PublicKey,
		RelayerVerifyingShare: material.ServerVerifyingShare,
		ParticipantIDs:        s.participantIDs(),
	}, nil
}

func (s *Service) verifyRegistrationTx(ctx context.Context, input Input) (string, error) {
	outcome, err := s.nearClient.TxStatus(ctx, input.RegistrationTxHash, input.NearAccountID)
	if err != nil {
		return "", rerr.Wrap(rerr.CodeInternal, err, "fetch registration transaction status")
	}
	if outcome.Transaction.SignerID != input.NearAccountID {
		return "", rerr.New(rerr.CodeNotVerified, "registration transaction signer does not match nearAccountId")
	}
	if s.registrationExpectedReceiver != "" && outcome.Transaction.ReceiverID != s.registrationExpectedReceiver {
		return "", rerr.New(rerr.CodeNotVerified, "registration transaction receiver does not match expected contract")
	}

	var success registrationSuccessValue
	if outcome.Status.SuccessValue != "" {
		raw, err := base64.StdEncoding.DecodeString(outcome.Status.SuccessValue)
		if err == nil {
			_ = json.Unmarshal(raw, &success)
		}
	}
	if !success.Verified {
		return "", rerr.New(rerr.CodeNotVerified, "registration transaction SuccessValue did not report verified:true")
	}

	rpID := ""
	if s.shareMode == keystrategy.ShareModeDerived || s.shareMode == keystrategy.ShareModeAuto {
		for _, raw := range outcome.Transaction.Actions {
			var withArgs struct {
				FunctionCall struct {
					MethodName string `json:"method_name"`
					Args       string `json:"args"`
				} `json:"FunctionCall"`
			}
			if err := json.Unmarshal(raw, &withArgs); err != nil {
				continue
			}
			if withArgs.FunctionCall.MethodName != s.registrationMethodName {
				continue
			}
			argsJSON, err := base64.StdEncoding.DecodeString(withArgs.FunctionCall.Args)
			if err != nil {
				continue
			}
			var args registrationCallArgs
			if err := json.Unmarshal(argsJSON, &args); err == nil {
				rpID = args.RpID
			}
		}
		if rpID == "" {
			return "", rerr.New(rerr.CodeInvalidBody, "could not recover rpId from registration call args")
		}
	}
	return rpID, nil
}

func (s *Service) verifyAssertionBoundKeygen(ctx context.Context, input Input) error {
	vrf := input.VRFData
	recomputed, err := canonical.Digest(map[string]interface{}{
		"kind":                 "threshold_ed25519_keygen",
		"nearAccountId":        input.NearAccountID,
		"rpId":                 vrf.RpID,
		"clientVerifyingShare": base64.RawURLEncoding.EncodeToString(input.ClientVerifyingShare),
	})
	if err != nil {
		return err
	}
	if !bytesEqual(recomputed[:], vrf.IntentDigest32) {
		return rerr.New(rerr.CodeIntentDigestMismatch, "recomputed keygen intent digest does not match vrf_data.intent_digest_32")
	}

	result, err := s.verifier.VerifyAuthenticationResponse(ctx, webauthnverify.AuthenticationRequest{
		RawAssertionJSON:  input.WebAuthnAuthentication,
		ExpectedRPID:      vrf.RpID,
		ExpectedUserID:    vrf.UserID,
		ExpectedChallenge: vrf.IntentDigest32,
	})
	if err != nil {
		return rerr.Wrap(rerr.CodeInternal, err, "webauthn verification request failed")
	}
	if !result.Success || !result.Verified {
		msg := result.Message
		if msg == "" {
			msg = "webauthn assertion was not verified"
		}
		return rerr.New(rerr.CodeNotVerified, msg)
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
