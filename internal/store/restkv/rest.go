// Package restkv implements the store contracts against an Upstash-style
// Redis REST endpoint: every command is a simple HTTP GET against
// "{baseURL}/{cmd}/{arg1}/{arg2}/..." with a bearer token, no persistent
// connection. No client library for this protocol exists anywhere in the
// retrieval pack (see DESIGN.md); this is a deliberately thin
// net/http + encoding/json collaborator, preferred for serverless
// deploys where a pooled TCP connection to Redis isn't available.
//
// "Take" here is a read-then-delete, not a single atomic primitive — the
// REST protocol has no GETDEL-and-compare across two calls without a
// scripting endpoint, so a race window exists between the GET and the
// DEL. This is the one place in the store layer that is NOT race-free;
// callers needing strict exactly-once semantics under real concurrency
// should prefer rediskv or memory.
package restkv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/web3-authn/threshold-relayer/internal/rerr"
	"github.com/web3-authn/threshold-relayer/internal/store"
)

// Client is a thin Upstash REST command client.
type Client struct {
	baseURL string
	token   string
	prefix  string
	http    *http.Client
}

func New(baseURL, token, keyPrefix string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		prefix:  keyPrefix,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type commandResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (c *Client) command(ctx context.Context, parts ...string) (json.RawMessage, error) {
	segments := make([]string, len(parts))
	for i, p := range parts {
		segments[i] = url.PathEscape(p)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+strings.Join(segments, "/"), nil)
	if err != nil {
		return nil, rerr.Internal(err, "restkv: build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, rerr.Wrap(rerr.CodeUnavailable, err, "restkv: command request failed")
	}
	defer resp.Body.Close()

	var out commandResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, rerr.Internal(err, "restkv: decode command response")
	}
	if out.Error != "" {
		return nil, rerr.New(rerr.CodeInternal, "restkv: "+out.Error)
	}
	return out.Result, nil
}

func (c *Client) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (c *Client) setJSON(ctx context.Context, namespace, id string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return rerr.Internal(err, "restkv: marshal "+namespace)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	if ttl <= 0 {
		_, err = c.command(ctx, "set", c.key(namespace, id), encoded)
		return err
	}
	_, err = c.command(ctx, "set", c.key(namespace, id), encoded, "EX", strconv.Itoa(int(ttl.Seconds())))
	return err
}

func (c *Client) getJSONInto(ctx context.Context, namespace, id string, out interface{}) (bool, error) {
	result, err := c.command(ctx, "get", c.key(namespace, id))
	if err != nil {
		return false, err
	}
	var encoded *string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return false, rerr.Internal(err, "restkv: decode get result")
	}
	if encoded == nil {
		return false, nil
	}
	raw, err := base64.StdEncoding.DecodeString(*encoded)
	if err != nil {
		return false, rerr.Internal(err, "restkv: base64 decode value")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, rerr.Internal(err, "restkv: unmarshal "+namespace)
	}
	return true, nil
}

func (c *Client) del(ctx context.Context, namespace, id string) error {
	_, err := c.command(ctx, "del", c.key(namespace, id))
	return err
}

// KeyStore is a restkv-backed store.KeyStore.
type KeyStore struct{ c *Client }

func NewKeyStore(c *Client) *KeyStore { return &KeyStore{c: c} }

func (s *KeyStore) Put(ctx context.Context, relayerKeyID string, material store.KeyMaterial) error {
	return s.c.setJSON(ctx, "key", relayerKeyID, material, 0)
}

func (s *KeyStore) Get(ctx context.Context, relayerKeyID string) (store.KeyMaterial, bool, error) {
	var m store.KeyMaterial
	ok, err := s.c.getJSONInto(ctx, "key", relayerKeyID, &m)
	return m, ok, err
}

// MpcSessionStore is a restkv-backed store.MpcSessionStore. Take_* is a
// documented read-then-delete; see the package doc comment.
type MpcSessionStore struct{ c *Client }

func NewMpcSessionStore(c *Client) *MpcSessionStore { return &MpcSessionStore{c: c} }

func (s *MpcSessionStore) PutMpc(ctx context.Context, id string, rec store.MpcSession, ttl time.Duration) error {
	return s.c.setJSON(ctx, "mpc", id, rec, ttl)
}

func (s *MpcSessionStore) TakeMpc(ctx context.Context, id string) (store.MpcSession, bool, error) {
	var rec store.MpcSession
	ok, err := s.c.getJSONInto(ctx, "mpc", id, &rec)
	if err != nil || !ok {
		return store.MpcSession{}, false, err
	}
	if err := s.c.del(ctx, "mpc", id); err != nil {
		return store.MpcSession{}, false, err
	}
	return rec, true, nil
}

func (s *MpcSessionStore) PutSigning(ctx context.Context, id string, rec store.SigningSession, ttl time.Duration) error {
	return s.c.setJSON(ctx, "signing", id, rec, ttl)
}

func (s *MpcSessionStore) TakeSigning(ctx context.Context, id string) (store.SigningSession, bool, error) {
	var rec store.SigningSession
	ok, err := s.c.getJSONInto(ctx, "signing", id, &rec)
	if err != nil || !ok {
		return store.SigningSession{}, false, err
	}
	if err := s.c.del(ctx, "signing", id); err != nil {
		return store.SigningSession{}, false, err
	}
	return rec, true, nil
}

func (s *MpcSessionStore) PutCoordinatorSigning(ctx context.Context, id string, rec store.CoordinatorSigningSession, ttl time.Duration) error {
	return s.c.setJSON(ctx, "coordsigning", id, rec, ttl)
}

func (s *MpcSessionStore) TakeCoordinatorSigning(ctx context.Context, id string) (store.CoordinatorSigningSession, bool, error) {
	var rec store.CoordinatorSigningSession
	ok, err := s.c.getJSONInto(ctx, "coordsigning", id, &rec)
	if err != nil || !ok {
		return store.CoordinatorSigningSession{}, false, err
	}
	if err := s.c.del(ctx, "coordsigning", id); err != nil {
		return store.CoordinatorSigningSession{}, false, err
	}
	return rec, true, nil
}

// AuthSessionStore is a restkv-backed store.AuthSessionStore.
type AuthSessionStore struct{ c *Client }

func NewAuthSessionStore(c *Client) *AuthSessionStore { return &AuthSessionStore{c: c} }

func (s *AuthSessionStore) PutSession(ctx context.Context, id string, rec store.AuthSession, opts store.AuthSessionOpts) error {
	if err := s.c.setJSON(ctx, "auth", id, rec, opts.TTL); err != nil {
		return err
	}
	_, err := s.c.command(ctx, "set", s.c.key("authuses", id), strconv.Itoa(opts.RemainingUses), "EX", strconv.Itoa(int(opts.TTL.Seconds())))
	return err
}

func (s *AuthSessionStore) GetSession(ctx context.Context, id string) (store.AuthSession, bool, error) {
	var rec store.AuthSession
	ok, err := s.c.getJSONInto(ctx, "auth", id, &rec)
	return rec, ok, err
}

func (s *AuthSessionStore) ConsumeUse(ctx context.Context, id string) (store.AuthSession, int, bool, error) {
	rec, ok, err := s.GetSession(ctx, id)
	if err != nil || !ok {
		return store.AuthSession{}, 0, false, err
	}
	result, err := s.c.command(ctx, "incrby", s.c.key("authuses", id), "-1")
	if err != nil {
		return store.AuthSession{}, 0, false, err
	}
	var remaining int64
	if err := json.Unmarshal(result, &remaining); err != nil {
		return store.AuthSession{}, 0, false, rerr.Internal(err, "restkv: non-integer incrby reply")
	}
	if remaining < 0 {
		_, _ = s.c.command(ctx, "incrby", s.c.key("authuses", id), "1")
		return store.AuthSession{}, 0, false, nil
	}
	return rec, int(remaining), true, nil
}
