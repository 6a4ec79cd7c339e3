package adapter

import (
	"context"
	"os"
	"testing"
	"time"

	"dispatch/internal/pkg/redis"
	"dispatch/internal/service/dispatch/domain/port"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseSignatureStore(t *testing.T, store port.SignatureStore) {
	ctx := context.Background()

	sig, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, sig)

	require.NoError(t, store.Save(ctx, "A|B"))
	sig, _ = store.Load(ctx)
	assert.Equal(t, "A|B", sig)

	require.NoError(t, store.ClearIf(ctx, "A|C"))
	sig, _ = store.Load(ctx)
	assert.Equal(t, "A|B", sig, "mismatched ClearIf must keep the newer signature")

	require.NoError(t, store.ClearIf(ctx, "A|B"))
	sig, _ = store.Load(ctx)
	assert.Empty(t, sig)

	require.NoError(t, store.Save(ctx, "C"))
	require.NoError(t, store.Clear(ctx))
	sig, _ = store.Load(ctx)
	assert.Empty(t, sig)
}

func TestMemorySignatureStore(t *testing.T) {
	exerciseSignatureStore(t, NewMemorySignatureStore())
}

func TestRedisSignatureStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client, err := redis.NewClient(addr)
	require.NoError(t, err)
	defer client.Close()

	store, err := NewRedisSignatureStore(client, "test-"+uuid.NewString(), time.Minute)
	require.NoError(t, err)
	exerciseSignatureStore(t, store)
}
