// Package rediskv implements the store contracts against a real Redis
// server reached over TCP via github.com/redis/go-redis/v9. Atomicity
// for take_* relies on GETDEL; the auth-session use budget relies on
// INCRBY plus a compensating increment on overshoot, exactly the
// "INCRBY key -1 and compare" idiom the design calls for.
package rediskv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/store"
)

// Client wraps a *redis.Client with the key-prefixing convention used by
// every store built on top of it.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New connects eagerly is avoided; go-redis clients are lazy, matching
// the teacher's preference for constructing collaborators cheaply and
// letting the first call surface connectivity errors.
func New(addr, password string, db int, keyPrefix string) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: keyPrefix,
	}
}

func (c *Client) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// KeyStore is a rediskv-backed store.KeyStore. Key material has no TTL.
type KeyStore struct{ c *Client }

func NewKeyStore(c *Client) *KeyStore { return &KeyStore{c: c} }

func (s *KeyStore) Put(ctx context.Context, relayerKeyID string, material store.KeyMaterial) error {
	raw, err := json.Marshal(material)
	if err != nil {
		return rerr.Internal(err, "rediskv: marshal key material")
	}
	if err := s.c.rdb.Set(ctx, s.c.key("key", relayerKeyID), raw, 0).Err(); err != nil {
		return rerr.Internal(err, "rediskv: set key material")
	}
	return nil
}

func (s *KeyStore) Get(ctx context.Context, relayerKeyID string) (store.KeyMaterial, bool, error) {
	raw, err := s.c.rdb.Get(ctx, s.c.key("key", relayerKeyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.KeyMaterial{}, false, nil
	}
	if err != nil {
		return store.KeyMaterial{}, false, rerr.Internal(err, "rediskv: get key material")
	}
	var m store.KeyMaterial
	if err := json.Unmarshal(raw, &m); err != nil {
		return store.KeyMaterial{}, false, rerr.Internal(err, "rediskv: unmarshal key material")
	}
	return m, true, nil
}

// MpcSessionStore is a rediskv-backed store.MpcSessionStore.
type MpcSessionStore struct{ c *Client }

func NewMpcSessionStore(c *Client) *MpcSessionStore { return &MpcSessionStore{c: c} }

func putJSON(ctx context.Context, c *Client, namespace, id string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return rerr.Internal(err, "rediskv: marshal "+namespace)
	}
	if err := c.rdb.Set(ctx, c.key(namespace, id), raw, ttl).Err(); err != nil {
		return rerr.Internal(err, "rediskv: set "+namespace)
	}
	return nil
}

func takeDelJSON[T any](ctx context.Context, c *Client, namespace, id string) (T, bool, error) {
	var zero T
	raw, err := c.rdb.GetDel(ctx, c.key(namespace, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, rerr.Internal(err, "rediskv: getdel "+namespace)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, rerr.Internal(err, "rediskv: unmarshal "+namespace)
	}
	return v, true, nil
}

func (s *MpcSessionStore) PutMpc(ctx context.Context, id string, rec store.MpcSession, ttl time.Duration) error {
	return putJSON(ctx, s.c, "mpc", id, rec, ttl)
}

func (s *MpcSessionStore) TakeMpc(ctx context.Context, id string) (store.MpcSession, bool, error) {
	return takeDelJSON[store.MpcSession](ctx, s.c, "mpc", id)
}

func (s *MpcSessionStore) PutSigning(ctx context.Context, id string, rec store.SigningSession, ttl time.Duration) error {
	return putJSON(ctx, s.c, "signing", id, rec, ttl)
}

func (s *MpcSessionStore) TakeSigning(ctx context.Context, id string) (store.SigningSession, bool, error) {
	return takeDelJSON[store.SigningSession](ctx, s.c, "signing", id)
}

func (s *MpcSessionStore) PutCoordinatorSigning(ctx context.Context, id string, rec store.CoordinatorSigningSession, ttl time.Duration) error {
	return putJSON(ctx, s.c, "coordsigning", id, rec, ttl)
}

func (s *MpcSessionStore) TakeCoordinatorSigning(ctx context.Context, id string) (store.CoordinatorSigningSession, bool, error) {
	return takeDelJSON[store.CoordinatorSigningSession](ctx, s.c, "coordsigning", id)
}

// AuthSessionStore is a rediskv-backed store.AuthSessionStore. The record
// and its use-budget counter are stored under separate keys sharing one
// TTL, so a use-budget decrement never needs to rewrite the record.
type AuthSessionStore struct{ c *Client }

func NewAuthSessionStore(c *Client) *AuthSessionStore { return &AuthSessionStore{c: c} }

func (s *AuthSessionStore) PutSession(ctx context.Context, id string, rec store.AuthSession, opts store.AuthSessionOpts) error {
	if err := putJSON(ctx, s.c, "auth", id, rec, opts.TTL); err != nil {
		return err
	}
	if err := s.c.rdb.Set(ctx, s.c.key("authuses", id), opts.RemainingUses, opts.TTL).Err(); err != nil {
		return rerr.Internal(err, "rediskv: set auth-session use budget")
	}
	return nil
}

func (s *AuthSessionStore) GetSession(ctx context.Context, id string) (store.AuthSession, bool, error) {
	raw, err := s.c.rdb.Get(ctx, s.c.key("auth", id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.AuthSession{}, false, nil
	}
	if err != nil {
		return store.AuthSession{}, false, rerr.Internal(err, "rediskv: get auth session")
	}
	var rec store.AuthSession
	if err := json.Unmarshal(raw, &rec); err != nil {
		return store.AuthSession{}, false, rerr.Internal(err, "rediskv: unmarshal auth session")
	}
	return rec, true, nil
}

func (s *AuthSessionStore) ConsumeUse(ctx context.Context, id string) (store.AuthSession, int, bool, error) {
	rec, ok, err := s.GetSession(ctx, id)
	if err != nil || !ok {
		return store.AuthSession{}, 0, false, err
	}

	remaining, err := s.c.rdb.IncrBy(ctx, s.c.key("authuses", id), -1).Result()
	if err != nil {
		return store.AuthSession{}, 0, false, rerr.Internal(err, "rediskv: incrby use budget")
	}
	if remaining < 0 {
		// Overshoot: compensate so concurrent callers don't drift the
		// counter further negative, then report exhaustion.
		_ = s.c.rdb.IncrBy(ctx, s.c.key("authuses", id), 1).Err()
		return store.AuthSession{}, 0, false, nil
	}
	return rec, int(remaining), true, nil
}
