package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusflow/internal/store/storetest"
)

func TestDeviceRepositoryUpsertKeepsOneRowPerDevice(t *testing.T) {
	db := storetest.Postgres(t)
	repo := NewDeviceRepository(db.Client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.Upsert(ctx, Device{UserID: "u1", DeviceID: "d1", Token: "t1", Platform: "android", LastUsed: now}))
	require.NoError(t, repo.Upsert(ctx, Device{UserID: "u1", DeviceID: "d1", Token: "t2", Platform: "ios", LastUsed: now.Add(time.Minute)}))
	require.NoError(t, repo.Upsert(ctx, Device{UserID: "u1", DeviceID: "d2", Token: "t3", LastUsed: now}))

	list, err := repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "d1", list[0].DeviceID)
	assert.Equal(t, "t2", list[0].Token)
	assert.Equal(t, "ios", list[0].Platform)

	n, err := repo.RemoveTokens(ctx, "u1", []string{"t2", "unknown"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := repo.Remove(ctx, "u1", "d2")
	require.NoError(t, err)
	assert.True(t, ok)
	n, err = repo.RemoveAll(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}
