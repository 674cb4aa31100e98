package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/web3-authn/threshold-relayer/internal/store"
)

func TestTakeMpc_ExactlyOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s := NewMpcSessionStore(nil)
	require.NoError(t, s.PutMpc(ctx, "sess-1", store.MpcSession{UserID: "alice"}, time.Minute))

	const n = 32
	var successes int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, ok, err := s.TakeMpc(ctx, "sess-1")
			require.NoError(t, err)
			if ok {
				atomic.AddInt32(&successes, 1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), successes)
}

func TestTakeMpc_ExpiredReturnsFalse(t *testing.T) {
	ctx := context.Background()
	clockTime := time.Now()
	s := NewMpcSessionStore(func() time.Time { return clockTime })
	require.NoError(t, s.PutMpc(ctx, "sess-1", store.MpcSession{}, time.Second))

	clockTime = clockTime.Add(2 * time.Second)
	_, ok, err := s.TakeMpc(ctx, "sess-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConsumeUse_BudgetBoundedUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s := NewAuthSessionStore(nil)
	const budget = 5
	require.NoError(t, s.PutSession(ctx, "auth-1", store.AuthSession{UserID: "alice"}, store.AuthSessionOpts{
		TTL:           time.Minute,
		RemainingUses: budget,
	}))

	const n = 50
	var successes int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _, ok, err := s.ConsumeUse(ctx, "auth-1")
			require.NoError(t, err)
			if ok {
				atomic.AddInt32(&successes, 1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(budget), successes)
}

func TestKeyStore_PutGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	ks := NewKeyStore()
	material := store.KeyMaterial{RelayerKeyID: "ed25519:abc", PublicKey: []byte{1, 2, 3}}
	require.NoError(t, ks.Put(ctx, "ed25519:abc", material))

	got, ok, err := ks.Get(ctx, "ed25519:abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, material, got)

	_, ok, err = ks.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}
