// Command relayer runs the threshold-ed25519 relayer's HTTP surface:
// KeygenService, AuthorizeService, SessionService, and SigningHandlers,
// wired from environment configuration. Graceful shutdown follows the
// signal-wait-then-context-timeout idiom used throughout the retrieval
// pack's service entrypoints (e.g. kopexa-grc-common/khttp/server).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/web3-authn/threshold-relayer/internal/authorize"
	"github.com/web3-authn/threshold-relayer/internal/config"
	"github.com/web3-authn/threshold-relayer/internal/grant"
	"github.com/web3-authn/threshold-relayer/internal/httpapi"
	"github.com/web3-authn/threshold-relayer/internal/keygen"
	"github.com/web3-authn/threshold-relayer/internal/keystrategy"
	"github.com/web3-authn/threshold-relayer/internal/log"
	"github.com/web3-authn/threshold-relayer/internal/nearclient"
	"github.com/web3-authn/threshold-relayer/internal/session"
	"github.com/web3-authn/threshold-relayer/internal/signing"
	"github.com/web3-authn/threshold-relayer/internal/store"
	"github.com/web3-authn/threshold-relayer/internal/store/memory"
	"github.com/web3-authn/threshold-relayer/internal/store/rediskv"
	"github.com/web3-authn/threshold-relayer/internal/store/restkv"
	"github.com/web3-authn/threshold-relayer/internal/webauthnverify"
)

var logger = log.New("relayer")

func buildStores(cfg config.Config) (store.KeyStore, store.MpcSessionStore, store.AuthSessionStore) {
	switch cfg.StoreBackend {
	case config.StoreBackendRedis:
		client := rediskv.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
		return rediskv.NewKeyStore(client), rediskv.NewMpcSessionStore(client), rediskv.NewAuthSessionStore(client)
	case config.StoreBackendRest:
		client := restkv.New(cfg.UpstashURL, cfg.UpstashToken, cfg.KeyPrefix)
		return restkv.NewKeyStore(client), restkv.NewMpcSessionStore(client), restkv.NewAuthSessionStore(client)
	default:
		return memory.NewKeyStore(), memory.NewMpcSessionStore(time.Now), memory.NewAuthSessionStore(time.Now)
	}
}

func toCosignerEndpoints(cosigners []config.Cosigner) []signing.CosignerEndpoint {
	endpoints := make([]signing.CosignerEndpoint, len(cosigners))
	for i, c := range cosigners {
		endpoints[i] = signing.CosignerEndpoint{CosignerID: c.CosignerID, RelayerURL: c.RelayerURL}
	}
	return endpoints
}

func buildVerifier(cfg config.Config) webauthnverify.Verifier {
	if cfg.WebAuthnVerifyURL == "" {
		logger.Warnf("THRESHOLD_WEBAUTHN_VERIFY_URL is not set; webauthn-gated endpoints will fail closed")
		return noopVerifier{}
	}
	return webauthnverify.NewHTTPVerifier(cfg.WebAuthnVerifyURL)
}

// noopVerifier fails closed when no verification service is configured,
// rather than silently accepting unverified assertions.
type noopVerifier struct{}

func (noopVerifier) VerifyAuthenticationResponse(ctx context.Context, req webauthnverify.AuthenticationRequest) (webauthnverify.Result, error) {
	return webauthnverify.Result{Success: false, Verified: false, Code: "missing_config", Message: "no webauthn verification service configured"}, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	keyStore, mpcSessions, authSessions := buildStores(cfg)
	nearClient := nearclient.NewHTTPClient(cfg.NearRPCURL)
	verifier := buildVerifier(cfg)

	strategy, err := keystrategy.New(keystrategy.Config{
		ShareMode:            cfg.ShareMode,
		MasterSecret:         cfg.MasterSecret,
		ClientParticipantID:  cfg.ClientParticipantID,
		RelayerParticipantID: cfg.RelayerParticipantID,
	}, keyStore)
	if err != nil {
		return err
	}

	keygenSvc := keygen.New(strategy, keyStore, nearClient, verifier, cfg.ShareMode, cfg.ClientParticipantID, cfg.RelayerParticipantID, "")
	authorizeSvc := authorize.New(strategy, nearClient, verifier, mpcSessions, cfg.ClientParticipantID, cfg.RelayerParticipantID)
	sessionSvc := session.New(strategy, nearClient, verifier, authSessions, mpcSessions, cfg.ClientParticipantID, cfg.RelayerParticipantID)

	var grantCodec *grant.Codec
	if len(cfg.CoordinatorSharedSecret) == 32 {
		grantCodec = grant.NewCodec(cfg.CoordinatorSharedSecret)
	}
	signingSvc := signing.New(strategy, mpcSessions, grantCodec, signing.NewHTTPCosignerClient(),
		cfg.ClientParticipantID, cfg.RelayerParticipantID, toCosignerEndpoints(cfg.Cosigners), cfg.CosignerT)

	router := httpapi.NewRouter(httpapi.Services{
		Keygen:    keygenSvc,
		Authorize: authorizeSvc,
		Session:   sessionSvc,
		Signing:   signingSvc,
		NodeRole:  cfg.NodeRole,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("relayer listening addr=%s role=%s", cfg.HTTPAddr, cfg.NodeRole)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case err := <-serveErr:
		return err
	case sig := <-sigCh:
		logger.Infof("shutting down on signal=%s", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func main() {
	if err := run(); err != nil {
		logger.Errorf("relayer exited with error: %v", err)
		os.Exit(1)
	}
}
