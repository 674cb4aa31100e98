// Package config loads the relayer's runtime configuration from the
// environment, following the LoadConfigFromEnv idiom used throughout the
// retrieval pack's service entrypoints: a typed struct, explicit
// validation, and a wrapped error on anything missing or malformed.
package config

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"strconv"

	"github.com/web3-authn/threshold-relayer/internal/keystrategy"
	"github.com/web3-authn/threshold-relayer/internal/rerr"
)

// NodeRole gates the public signing endpoints.
type NodeRole string

const (
	NodeRoleCoordinator NodeRole = "coordinator"
	NodeRoleParticipant NodeRole = "participant"
)

// Peer is one entry of THRESHOLD_COORDINATOR_PEERS.
type Peer struct {
	ID         int    `json:"id"`
	RelayerURL string `json:"relayerUrl"`
}

// Cosigner is one entry of THRESHOLD_ED25519_RELAYER_COSIGNERS.
type Cosigner struct {
	CosignerID int    `json:"cosignerId"`
	RelayerURL string `json:"relayerUrl"`
}

// StoreBackend selects a KV implementation.
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendRedis  StoreBackend = "redis"
	StoreBackendRest   StoreBackend = "rest"
)

// Config is every option spec.md names, plus the store-backend selection
// needed to wire one of the three concrete KV implementations.
type Config struct {
	NodeRole NodeRole

	ShareMode            keystrategy.ShareMode
	MasterSecret         []byte
	ClientParticipantID  int
	RelayerParticipantID int

	CoordinatorPeers []Peer
	Cosigners        []Cosigner
	CosignerT        int

	CoordinatorSharedSecret []byte

	KeyPrefix string

	StoreBackend  StoreBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	UpstashURL    string
	UpstashToken  string

	HTTPAddr          string
	NearRPCURL        string
	WebAuthnVerifyURL string
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func decodeB64U(key string) ([]byte, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return nil, rerr.Wrapf(rerr.CodeMissingConfig, err, "%s is not valid base64url", key)
	}
	return b, nil
}

func parseIntEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, rerr.Wrapf(rerr.CodeMissingConfig, err, "%s must be an integer", key)
	}
	return n, nil
}

func parseJSONEnv(key string, out interface{}) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(v), out); err != nil {
		return rerr.Wrapf(rerr.CodeMissingConfig, err, "%s is not valid JSON", key)
	}
	return nil
}

// Load reads and validates Config from the process environment.
func Load() (Config, error) {
	var cfg Config
	cfg.NodeRole = NodeRole(getenv("THRESHOLD_NODE_ROLE", string(NodeRoleCoordinator)))
	if cfg.NodeRole != NodeRoleCoordinator && cfg.NodeRole != NodeRoleParticipant {
		return Config{}, rerr.Newf(rerr.CodeMissingConfig, "THRESHOLD_NODE_ROLE must be coordinator or participant, got %q", cfg.NodeRole)
	}

	cfg.ShareMode = keystrategy.ShareMode(getenv("THRESHOLD_ED25519_SHARE_MODE", string(keystrategy.ShareModeAuto)))

	masterSecret, err := decodeB64U("THRESHOLD_ED25519_MASTER_SECRET_B64U")
	if err != nil {
		return Config{}, err
	}
	if masterSecret != nil && len(masterSecret) != 32 {
		return Config{}, rerr.New(rerr.CodeMissingConfig, "THRESHOLD_ED25519_MASTER_SECRET_B64U must decode to exactly 32 bytes")
	}
	cfg.MasterSecret = masterSecret

	clientID, err := parseIntEnv("THRESHOLD_ED25519_CLIENT_PARTICIPANT_ID", 1)
	if err != nil {
		return Config{}, err
	}
	relayerID, err := parseIntEnv("THRESHOLD_ED25519_RELAYER_PARTICIPANT_ID", 2)
	if err != nil {
		return Config{}, err
	}
	if clientID < 1 || clientID > 65535 || relayerID < 1 || relayerID > 65535 {
		return Config{}, rerr.New(rerr.CodeMissingConfig, "participant ids must be in [1,65535]")
	}
	if clientID == relayerID {
		return Config{}, rerr.New(rerr.CodeMissingConfig, "client and relayer participant ids must differ")
	}
	cfg.ClientParticipantID = clientID
	cfg.RelayerParticipantID = relayerID

	if err := parseJSONEnv("THRESHOLD_COORDINATOR_PEERS", &cfg.CoordinatorPeers); err != nil {
		return Config{}, err
	}
	if err := parseJSONEnv("THRESHOLD_ED25519_RELAYER_COSIGNERS", &cfg.Cosigners); err != nil {
		return Config{}, err
	}
	cosignerT, err := parseIntEnv("THRESHOLD_ED25519_RELAYER_COSIGNER_T", 0)
	if err != nil {
		return Config{}, err
	}
	if len(cfg.Cosigners) > 0 {
		if cosignerT < 1 || cosignerT > len(cfg.Cosigners) {
			return Config{}, rerr.Newf(rerr.CodeMissingConfig, "THRESHOLD_ED25519_RELAYER_COSIGNER_T must be in [1,%d]", len(cfg.Cosigners))
		}
	}
	cfg.CosignerT = cosignerT

	sharedSecret, err := decodeB64U("THRESHOLD_COORDINATOR_SHARED_SECRET_B64U")
	if err != nil {
		return Config{}, err
	}
	if (len(cfg.Cosigners) > 0 || len(cfg.CoordinatorPeers) > 0) && len(sharedSecret) != 32 {
		return Config{}, rerr.New(rerr.CodeMissingConfig, "THRESHOLD_COORDINATOR_SHARED_SECRET_B64U (32 bytes) is required for any fan-out")
	}
	cfg.CoordinatorSharedSecret = sharedSecret

	cfg.KeyPrefix = getenv("THRESHOLD_KEY_PREFIX", "threshold-ed25519")

	cfg.StoreBackend = StoreBackend(getenv("THRESHOLD_STORE_BACKEND", string(StoreBackendMemory)))
	cfg.RedisAddr = os.Getenv("THRESHOLD_REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("THRESHOLD_REDIS_PASSWORD")
	redisDB, err := parseIntEnv("THRESHOLD_REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisDB = redisDB
	cfg.UpstashURL = os.Getenv("THRESHOLD_UPSTASH_REST_URL")
	cfg.UpstashToken = os.Getenv("THRESHOLD_UPSTASH_REST_TOKEN")

	if cfg.StoreBackend == StoreBackendRedis && cfg.RedisAddr == "" {
		return Config{}, rerr.New(rerr.CodeMissingConfig, "THRESHOLD_REDIS_ADDR is required for the redis store backend")
	}
	if cfg.StoreBackend == StoreBackendRest && (cfg.UpstashURL == "" || cfg.UpstashToken == "") {
		return Config{}, rerr.New(rerr.CodeMissingConfig, "THRESHOLD_UPSTASH_REST_URL and _TOKEN are required for the rest store backend")
	}

	cfg.HTTPAddr = getenv("THRESHOLD_HTTP_ADDR", ":8080")
	cfg.NearRPCURL = getenv("THRESHOLD_NEAR_RPC_URL", "https://rpc.testnet.near.org")
	cfg.WebAuthnVerifyURL = os.Getenv("THRESHOLD_WEBAUTHN_VERIFY_URL")

	return cfg, nil
}
