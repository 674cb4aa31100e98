// Package memory implements the store contracts as process-local,
// mutex-protected maps. This is the backend used in tests and whenever no
// Redis endpoint is configured — grounded on the teacher's habit of
// exercising its arithmetic layers against plain in-memory fixtures
// (e.g. eddsa/resharing/local_party_test.go's in-process party set).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/web3-authn/threshold-relayer/internal/store"
)

// Clock is the time seam tests use to make TTL expiry deterministic,
// mirroring the teacher's pattern of injecting deterministic test fixtures
// rather than sleeping in real time.
type Clock func() time.Time

// KeyStore is an in-memory store.KeyStore.
type KeyStore struct {
	mu   sync.RWMutex
	data map[string]store.KeyMaterial
}

func NewKeyStore() *KeyStore {
	return &KeyStore{data: make(map[string]store.KeyMaterial)}
}

func (s *KeyStore) Put(_ context.Context, relayerKeyID string, material store.KeyMaterial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[relayerKeyID] = material
	return nil
}

func (s *KeyStore) Get(_ context.Context, relayerKeyID string) (store.KeyMaterial, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.data[relayerKeyID]
	return m, ok, nil
}

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// MpcSessionStore is an in-memory store.MpcSessionStore.
type MpcSessionStore struct {
	mu sync.Mutex

	nowFn           Clock
	mpcByID         map[string]entry[store.MpcSession]
	signingByID     map[string]entry[store.SigningSession]
	coordinatorByID map[string]entry[store.CoordinatorSigningSession]
}

func NewMpcSessionStore(now Clock) *MpcSessionStore {
	if now == nil {
		now = time.Now
	}
	return &MpcSessionStore{
		nowFn:           now,
		mpcByID:         make(map[string]entry[store.MpcSession]),
		signingByID:     make(map[string]entry[store.SigningSession]),
		coordinatorByID: make(map[string]entry[store.CoordinatorSigningSession]),
	}
}

func (s *MpcSessionStore) PutMpc(_ context.Context, id string, rec store.MpcSession, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mpcByID[id] = entry[store.MpcSession]{value: rec, expiresAt: s.nowFn().Add(ttl)}
	return nil
}

func (s *MpcSessionStore) TakeMpc(_ context.Context, id string) (store.MpcSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.mpcByID[id]
	delete(s.mpcByID, id)
	if !ok || s.nowFn().After(e.expiresAt) {
		return store.MpcSession{}, false, nil
	}
	return e.value, true, nil
}

func (s *MpcSessionStore) PutSigning(_ context.Context, id string, rec store.SigningSession, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signingByID[id] = entry[store.SigningSession]{value: rec, expiresAt: s.nowFn().Add(ttl)}
	return nil
}

func (s *MpcSessionStore) TakeSigning(_ context.Context, id string) (store.SigningSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.signingByID[id]
	delete(s.signingByID, id)
	if !ok || s.nowFn().After(e.expiresAt) {
		return store.SigningSession{}, false, nil
	}
	return e.value, true, nil
}

func (s *MpcSessionStore) PutCoordinatorSigning(_ context.Context, id string, rec store.CoordinatorSigningSession, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coordinatorByID[id] = entry[store.CoordinatorSigningSession]{value: rec, expiresAt: s.nowFn().Add(ttl)}
	return nil
}

func (s *MpcSessionStore) TakeCoordinatorSigning(_ context.Context, id string) (store.CoordinatorSigningSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.coordinatorByID[id]
	delete(s.coordinatorByID, id)
	if !ok || s.nowFn().After(e.expiresAt) {
		return store.CoordinatorSigningSession{}, false, nil
	}
	return e.value, true, nil
}

// AuthSessionStore is an in-memory store.AuthSessionStore.
type AuthSessionStore struct {
	mu    sync.Mutex
	nowFn Clock
	byID  map[string]*authEntry
}

type authEntry struct {
	rec           store.AuthSession
	expiresAt     time.Time
	remainingUses int
}

func NewAuthSessionStore(now Clock) *AuthSessionStore {
	if now == nil {
		now = time.Now
	}
	return &AuthSessionStore{nowFn: now, byID: make(map[string]*authEntry)}
}

func (s *AuthSessionStore) PutSession(_ context.Context, id string, rec store.AuthSession, opts store.AuthSessionOpts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = &authEntry{rec: rec, expiresAt: s.nowFn().Add(opts.TTL), remainingUses: opts.RemainingUses}
	return nil
}

func (s *AuthSessionStore) GetSession(_ context.Context, id string) (store.AuthSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok || s.nowFn().After(e.expiresAt) {
		return store.AuthSession{}, false, nil
	}
	return e.rec, true, nil
}

func (s *AuthSessionStore) ConsumeUse(_ context.Context, id string) (store.AuthSession, int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok || s.nowFn().After(e.expiresAt) || e.remainingUses <= 0 {
		return store.AuthSession{}, 0, false, nil
	}
	e.remainingUses--
	return e.rec, e.remainingUses, true, nil
}
