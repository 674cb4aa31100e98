// Package signing implements SigningHandlers: the two-round sign/init and
// sign/finalize flow, in both local (client+relayer, no co-signers) and
// cosigner (Shamir-reshared relayer share, fanned out to t co-signers)
// modes. The take/persist/restore session idiom and the structured,
// bounded-concurrency peer fan-out are grounded on the teacher's
// eddsa/signing round files (round-by-round state carried between calls)
// and mobile/mpc's parallel-peer coordination, generalized from tss-lib's
// in-process goroutine rounds to HTTP calls against remote co-signers.
package signing

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/web3-authn/threshold-relayer/internal/cosigner"
	"github.com/web3-authn/threshold-relayer/internal/frost"
	"github.com/web3-authn/threshold-relayer/internal/grant"
	"github.com/web3-authn/threshold-relayer/internal/keystrategy"
	"github.com/web3-authn/threshold-relayer/internal/log"
	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/scalarfield"
	"github.com/web3-authn/threshold-relayer/internal/store"
)

var logger = log.New("signing")

const (
	signingSessionTTL = 60 * time.Second
	cosignCallTimeout = 10 * time.Second
	cosignerGrantTTL  = 30 * time.Second

	roleClient = "client"
	roleServer = "server"
)

// InitInput is a `sign/init` request.
type InitInput struct {
	MpcSessionID     string
	RelayerKeyID     string
	NearAccountID    string
	SigningDigest    []byte
	ClientCommitment store.Commitments
}

// InitResult is a successful `sign/init` response.
type InitResult struct {
	SigningSessionID           string
	CommitmentsByID            map[string]store.Commitments
	RelayerVerifyingSharesByID map[string][]byte
	ParticipantIDs             []int
}

// FinalizeInput is a `sign/finalize` request.
type FinalizeInput struct {
	SigningSessionID string
	RelayerKeyID     string
	NearAccountID    string
	SigningDigest    []byte
	ClientShare      []byte // client's z_client partial signature scalar
}

// FinalizeResult is a successful `sign/finalize` response: the combined
// (R, s) Ed25519 signature.
type FinalizeResult struct {
	Signature []byte
}

// Service wires SigningHandlers' collaborators. A node always carries one
// of these regardless of THRESHOLD_NODE_ROLE: coordinator-only methods
// (Init, Finalize) are simply never invoked by the public router on a
// participant node.
type Service struct {
	strategy    *keystrategy.Strategy
	mpcSessions store.MpcSessionStore
	grantCodec  *grant.Codec
	cosigners   []cosignerConfig
	cosignerT   int
	peerClient  CosignerClient

	clientParticipantID  int
	relayerParticipantID int
}

type cosignerConfig struct {
	ID  int
	URL string
}

// CosignerEndpoint is the minimal shape New needs for each configured
// co-signer, matching config.Cosigner's fields without importing the
// config package from this one.
type CosignerEndpoint struct {
	CosignerID int
	RelayerURL string
}

func New(strategy *keystrategy.Strategy, mpcSessions store.MpcSessionStore, grantCodec *grant.Codec, peerClient CosignerClient, clientParticipantID, relayerParticipantID int, cosigners []CosignerEndpoint, cosignerT int) *Service {
	cfgs := make([]cosignerConfig, 0, len(cosigners))
	for _, c := range cosigners {
		cfgs = append(cfgs, cosignerConfig{ID: c.CosignerID, URL: c.RelayerURL})
	}
	sort.Slice(cfgs, func(i, j int) bool { return cfgs[i].ID < cfgs[j].ID })
	return &Service{
		strategy:             strategy,
		mpcSessions:          mpcSessions,
		grantCodec:           grantCodec,
		cosigners:            cfgs,
		cosignerT:            cosignerT,
		peerClient:           peerClient,
		clientParticipantID:  clientParticipantID,
		relayerParticipantID: relayerParticipantID,
	}
}

func (s *Service) serverParticipantIDs() []int {
	ids := []int{s.clientParticipantID, s.relayerParticipantID}
	sort.Ints(ids)
	return ids
}

func sameIntSet(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := append([]int(nil), a...), append([]int(nil), b...)
	sort.Ints(sa)
	sort.Ints(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
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

func toFrostCommitment(c store.Commitments) (frost.Commitment, error) {
	hiding, err := scalarfield.DecodePoint(c.Hiding)
	if err != nil {
		return frost.Commitment{}, rerr.Wrap(rerr.CodeInvalidBody, err, "decode hiding commitment point")
	}
	binding, err := scalarfield.DecodePoint(c.Binding)
	if err != nil {
		return frost.Commitment{}, rerr.Wrap(rerr.CodeInvalidBody, err, "decode binding commitment point")
	}
	return frost.Commitment{Hiding: hiding, Binding: binding}, nil
}

func fromFrostCommitment(c frost.Commitment) store.Commitments {
	return store.Commitments{Hiding: c.Hiding.EncodePoint(), Binding: c.Binding.EncodePoint()}
}

func toFrostNonce(n store.SigningNonces) (frost.NonceSecret, error) {
	hiding, err := scalarfield.DecodeScalar(n.Hiding)
	if err != nil {
		return frost.NonceSecret{}, rerr.Wrap(rerr.CodeInternal, err, "decode hiding nonce")
	}
	binding, err := scalarfield.DecodeScalar(n.Binding)
	if err != nil {
		return frost.NonceSecret{}, rerr.Wrap(rerr.CodeInternal, err, "decode binding nonce")
	}
	return frost.NonceSecret{Hiding: hiding, Binding: binding}, nil
}

func fromFrostNonce(n frost.NonceSecret) store.SigningNonces {
	return store.SigningNonces{Hiding: n.Hiding.EncodeScalar(), Binding: n.Binding.EncodeScalar()}
}

// Init runs sign/init: take the single-use mpc session, resolve key
// material, run round 1 (local commit, or a t-of-n co-signer fan-out),
// and persist the resulting signing session for sign/finalize to consume.
func (s *Service) Init(ctx context.Context, in InitInput) (InitResult, error) {
	rec, ok, err := s.mpcSessions.TakeMpc(ctx, in.MpcSessionID)
	if err != nil {
		return InitResult{}, rerr.Internal(err, "take mpc session")
	}
	if !ok {
		return InitResult{}, rerr.New(rerr.CodeUnauthorized, "mpc session is missing, expired, or already consumed")
	}
	if rec.RelayerKeyID != in.RelayerKeyID || rec.UserID != in.NearAccountID || !bytesEqual(rec.SigningDigest, in.SigningDigest) {
		return InitResult{}, rerr.New(rerr.CodeUnauthorized, "mpc session does not match this sign/init request")
	}
	if !sameIntSet(rec.ParticipantIDs, s.serverParticipantIDs()) {
		return InitResult{}, rerr.New(rerr.CodeMultiPartyNotSupported, "mpc session participant set does not match this relayer's client+relayer pair")
	}

	material, err := s.strategy.ResolveKeyMaterial(ctx, rec.RelayerKeyID, rec.UserID, rec.RpID, rec.ClientVerifyingShare)
	if err != nil {
		return InitResult{}, err
	}

	signingSessionID := uuid.NewString()

	if len(s.cosigners) == 0 {
		serverNonce, serverCommitment, err := frost.Commit()
		if err != nil {
			return InitResult{}, err
		}
		session := store.CoordinatorSigningSession{
			SigningSession: store.SigningSession{
				ExpiresAtMs:          time.Now().Add(signingSessionTTL).UnixMilli(),
				MpcSessionID:         in.MpcSessionID,
				RelayerKeyID:         rec.RelayerKeyID,
				SigningDigest:        rec.SigningDigest,
				UserID:               rec.UserID,
				RpID:                 rec.RpID,
				ClientVerifyingShare: rec.ClientVerifyingShare,
				CommitmentsByID: map[string]store.Commitments{
					roleClient: in.ClientCommitment,
					roleServer: fromFrostCommitment(serverCommitment),
				},
				ServerNonces:   fromFrostNonce(serverNonce),
				ParticipantIDs: rec.ParticipantIDs,
			},
			Mode:           "local",
			GroupPublicKey: material.PublicKey,
		}
		if err := s.mpcSessions.PutCoordinatorSigning(ctx, signingSessionID, session, signingSessionTTL); err != nil {
			return InitResult{}, rerr.Internal(err, "persist coordinator signing session")
		}
		logger.Infof("sign/init local mode signingSessionId=%s relayerKeyId=%s", signingSessionID, rec.RelayerKeyID)
		return InitResult{
			SigningSessionID: signingSessionID,
			CommitmentsByID:  session.CommitmentsByID,
			RelayerVerifyingSharesByID: map[string][]byte{
				roleServer: material.ServerVerifyingShare,
			},
			ParticipantIDs: rec.ParticipantIDs,
		}, nil
	}

	return s.initCosignerMode(ctx, in, rec, material, signingSessionID)
}

func (s *Service) selectedCosigners() []cosignerConfig {
	n := s.cosignerT
	if n > len(s.cosigners) {
		n = len(s.cosigners)
	}
	return s.cosigners[:n]
}

func (s *Service) initCosignerMode(ctx context.Context, in InitInput, rec store.MpcSession, material store.KeyMaterial, signingSessionID string) (InitResult, error) {
	serverShare, err := s.strategy.ServerSigningShareForFinalize(rec.UserID, rec.RpID, rec.ClientVerifyingShare, material)
	if err != nil {
		return InitResult{}, err
	}
	defer serverShare.Zeroize()

	coeffs, err := cosigner.DeriveCoefficients(serverShare, s.cosignerT)
	if err != nil {
		return InitResult{}, err
	}

	selected := s.selectedCosigners()
	type legResult struct {
		cfg    cosignerConfig
		leg    store.CoSignerLeg
		commit store.Commitments
		err    error
	}
	results := make([]legResult, len(selected))
	var wg multierrorWaitGroup
	for i, cs := range selected {
		i, cs := i, cs
		wg.Go(func() error {
			subShare, err := cosigner.SubShare(coeffs, cs.ID)
			if err != nil {
				results[i] = legResult{cfg: cs, err: err}
				return err
			}
			now := time.Now()
			token, err := s.grantCodec.Sign(grant.Payload{
				V:          1,
				Typ:        grant.TypeCosignerGrant,
				Iat:        now.Unix(),
				Exp:        now.Add(cosignerGrantTTL).Unix(),
				MpcSessionID: in.MpcSessionID,
				CosignerID: &cs.ID,
				MpcSession: rec,
			})
			if err != nil {
				results[i] = legResult{cfg: cs, err: err}
				return err
			}
			callCtx, cancel := context.WithTimeout(ctx, cosignCallTimeout)
			defer cancel()
			resp, err := s.peerClient.CosignInit(callCtx, cs.URL, CosignInitRequest{
				Grant:         token,
				SubShare:      subShare.EncodeScalar(),
				SigningDigest: rec.SigningDigest,
			})
			if err != nil {
				results[i] = legResult{cfg: cs, err: err}
				return err
			}
			results[i] = legResult{
				cfg: cs,
				leg: store.CoSignerLeg{
					CosignerID:           cs.ID,
					RelayerURL:           cs.URL,
					Grant:                token,
					PeerSigningSessionID: resp.PeerSigningSessionID,
				},
				commit: resp.Commitment,
			}
			return nil
		})
	}
	wg.Wait()

	var legs []store.CoSignerLeg
	var cosignerIDs []int
	frostCommitments := []frost.Commitment{}
	for _, r := range results {
		if r.err != nil {
			logger.Warnf("cosign/init failed cosignerId=%d: %v", r.cfg.ID, r.err)
			continue
		}
		legs = append(legs, r.leg)
		cosignerIDs = append(cosignerIDs, r.cfg.ID)
		fc, err := toFrostCommitment(r.commit)
		if err != nil {
			return InitResult{}, err
		}
		frostCommitments = append(frostCommitments, fc)
	}

	if len(legs) < s.cosignerT {
		return InitResult{}, rerr.Newf(rerr.CodeUnavailable, "Need at least %d relayer cosigners; got %d", s.cosignerT, len(legs))
	}

	hidingPoints := make([]scalarfield.Point, 0, len(frostCommitments))
	bindingPoints := make([]scalarfield.Point, 0, len(frostCommitments))
	for _, c := range frostCommitments {
		hidingPoints = append(hidingPoints, c.Hiding)
		bindingPoints = append(bindingPoints, c.Binding)
	}
	combinedHiding, err := scalarfield.AddPoints(hidingPoints...)
	if err != nil {
		return InitResult{}, err
	}
	combinedBinding, err := scalarfield.AddPoints(bindingPoints...)
	if err != nil {
		return InitResult{}, err
	}
	serverCommitment := store.Commitments{Hiding: combinedHiding.EncodePoint(), Binding: combinedBinding.EncodePoint()}

	session := store.CoordinatorSigningSession{
		SigningSession: store.SigningSession{
			ExpiresAtMs:          time.Now().Add(signingSessionTTL).UnixMilli(),
			MpcSessionID:         in.MpcSessionID,
			RelayerKeyID:         rec.RelayerKeyID,
			SigningDigest:        rec.SigningDigest,
			UserID:               rec.UserID,
			RpID:                 rec.RpID,
			ClientVerifyingShare: rec.ClientVerifyingShare,
			CommitmentsByID: map[string]store.Commitments{
				roleClient: in.ClientCommitment,
				roleServer: serverCommitment,
			},
			ParticipantIDs: rec.ParticipantIDs,
		},
		Mode:           "cosigner",
		CosignerIDs:    cosignerIDs,
		Legs:           legs,
		GroupPublicKey: material.PublicKey,
	}
	if err := s.mpcSessions.PutCoordinatorSigning(ctx, signingSessionID, session, signingSessionTTL); err != nil {
		return InitResult{}, rerr.Internal(err, "persist coordinator signing session")
	}

	logger.Infof("sign/init cosigner mode signingSessionId=%s cosigners=%v", signingSessionID, cosignerIDs)
	return InitResult{
		SigningSessionID: signingSessionID,
		CommitmentsByID:  session.CommitmentsByID,
		RelayerVerifyingSharesByID: map[string][]byte{
			roleServer: material.ServerVerifyingShare,
		},
		ParticipantIDs: rec.ParticipantIDs,
	}, nil
}

// Finalize runs sign/finalize: take the signing session (local or
// cosigner mode), run round 2, and combine the client's and server's
// partial signature shares into a standard Ed25519 signature.
func (s *Service) Finalize(ctx context.Context, in FinalizeInput) (FinalizeResult, error) {
	coord, ok, err := s.mpcSessions.TakeCoordinatorSigning(ctx, in.SigningSessionID)
	if err != nil {
		return FinalizeResult{}, rerr.Internal(err, "take signing session")
	}
	if !ok {
		return FinalizeResult{}, rerr.New(rerr.CodeUnauthorized, "signing session is missing, expired, or already consumed")
	}
	if coord.RelayerKeyID != in.RelayerKeyID || coord.UserID != in.NearAccountID || !bytesEqual(coord.SigningDigest, in.SigningDigest) {
		if restoreErr := s.restoreSigningSession(ctx, in.SigningSessionID, coord); restoreErr != nil {
			logger.Warnf("restore signing session after mismatch failed: %v", restoreErr)
		}
		return FinalizeResult{}, rerr.New(rerr.CodeUnauthorized, "signing session does not match this sign/finalize request")
	}

	material, err := s.strategy.ResolveKeyMaterial(ctx, coord.RelayerKeyID, coord.UserID, coord.RpID, coord.ClientVerifyingShare)
	if err != nil {
		return FinalizeResult{}, err
	}

	clientCommitment, err := toFrostCommitment(coord.CommitmentsByID[roleClient])
	if err != nil {
		return FinalizeResult{}, err
	}
	serverCommitment, err := toFrostCommitment(coord.CommitmentsByID[roleServer])
	if err != nil {
		return FinalizeResult{}, err
	}
	commitmentsByID := map[int]frost.Commitment{
		s.clientParticipantID:  clientCommitment,
		s.relayerParticipantID: serverCommitment,
	}
	groupPoint, err := scalarfield.DecodePoint(material.PublicKey)
	if err != nil {
		return FinalizeResult{}, rerr.Wrap(rerr.CodeInternal, err, "decode group public key")
	}
	groupPublicKey := groupPoint.EncodePoint()

	R, bindingFactors, err := frost.GroupCommitment(coord.SigningDigest, commitmentsByID)
	if err != nil {
		return FinalizeResult{}, err
	}
	challenge, err := frost.Challenge(R, groupPublicKey, coord.SigningDigest)
	if err != nil {
		return FinalizeResult{}, err
	}

	clientShare, err := scalarfield.DecodeScalar(in.ClientShare)
	if err != nil {
		return FinalizeResult{}, rerr.Wrap(rerr.CodeInvalidBody, err, "decode client partial signature")
	}

	var zServer scalarfield.Scalar
	if coord.Mode != "cosigner" {
		serverNonce, err := toFrostNonce(coord.ServerNonces)
		if err != nil {
			return FinalizeResult{}, err
		}
		serverShare, err := s.strategy.ServerSigningShareForFinalize(coord.UserID, coord.RpID, coord.ClientVerifyingShare, material)
		if err != nil {
			return FinalizeResult{}, err
		}
		defer serverShare.Zeroize()
		one, err := scalarfield.U16ToScalarBytes(1)
		if err != nil {
			return FinalizeResult{}, err
		}
		zServer, err = frost.PartialSign(serverNonce, bindingFactors[s.relayerParticipantID], challenge, one, serverShare)
		if err != nil {
			return FinalizeResult{}, err
		}
	} else {
		zServer, err = s.finalizeCosignerMode(ctx, coord, challenge)
		if err != nil {
			return FinalizeResult{}, err
		}
	}

	s_, err := frost.CombineSignatureShares(clientShare, zServer)
	if err != nil {
		return FinalizeResult{}, err
	}
	sig := append(append([]byte{}, R.EncodePoint()...), s_.EncodeScalar()...)
	return FinalizeResult{Signature: sig}, nil
}

func (s *Service) restoreSigningSession(ctx context.Context, id string, coord store.CoordinatorSigningSession) error {
	remaining := time.Until(time.UnixMilli(coord.ExpiresAtMs))
	if remaining <= 0 {
		return nil
	}
	return s.mpcSessions.PutCoordinatorSigning(ctx, id, coord, remaining)
}

func (s *Service) finalizeCosignerMode(ctx context.Context, coord store.CoordinatorSigningSession, challenge scalarfield.Scalar) (scalarfield.Scalar, error) {
	type legResult struct {
		leg   store.CoSignerLeg
		share scalarfield.Scalar
		err   error
	}
	results := make([]legResult, len(coord.Legs))
	var wg multierrorWaitGroup
	for i, leg := range coord.Legs {
		i, leg := i, leg
		wg.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, cosignCallTimeout)
			defer cancel()
			resp, err := s.peerClient.CosignFinalize(callCtx, leg.RelayerURL, CosignFinalizeRequest{
				Grant:                leg.Grant,
				PeerSigningSessionID: leg.PeerSigningSessionID,
				CommitmentsByParticipant: map[int]store.Commitments{
					s.clientParticipantID:  coord.CommitmentsByID[roleClient],
					s.relayerParticipantID: coord.CommitmentsByID[roleServer],
				},
				ServerParticipantID: s.relayerParticipantID,
				CosignerIDs:         coord.CosignerIDs,
				SigningDigest:       coord.SigningDigest,
				GroupPublicKey:      coord.GroupPublicKey,
			})
			if err != nil {
				results[i] = legResult{leg: leg, err: err}
				return err
			}
			share, err := scalarfield.DecodeScalar(resp.PartialSignatureShare)
			if err != nil {
				results[i] = legResult{leg: leg, err: err}
				return err
			}
			results[i] = legResult{leg: leg, share: share}
			return nil
		})
	}
	wg.Wait()

	shares := make([]scalarfield.Scalar, 0, len(results))
	ok := 0
	for _, r := range results {
		if r.err != nil {
			logger.Warnf("cosign/finalize failed cosignerId=%d: %v", r.leg.CosignerID, r.err)
			continue
		}
		shares = append(shares, r.share)
		ok++
	}
	if ok < len(coord.Legs) {
		return scalarfield.Scalar{}, rerr.Newf(rerr.CodeUnavailable, "Need at least %d relayer cosigners; got %d", len(coord.Legs), ok)
	}
	return frost.CombineSignatureShares(shares...)
}

// multierrorWaitGroup runs a bounded set of fallible closures concurrently
// and aggregates their errors, grounded on hashicorp/go-multierror's
// typical Go()/Wait() usage in coordinator fan-out code.
type multierrorWaitGroup struct {
	errs chan error
	n    int
}

func (g *multierrorWaitGroup) Go(fn func() error) {
	if g.errs == nil {
		g.errs = make(chan error, 64)
	}
	g.n++
	go func() {
		g.errs <- fn()
	}()
}

func (g *multierrorWaitGroup) Wait() *multierror.Error {
	var result *multierror.Error
	for i := 0; i < g.n; i++ {
		if err := <-g.errs; err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
