package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "agrisense-cloud/internal/alarms/domain"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

func newStore(t *testing.T) (*EpisodeStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewEpisodeStore(client)
	require.NoError(t, err)
	return store, mr
}

func TestEpisodeRoundTrip(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	missing, err := store.Get(ctx, "D1", telemetry.ParamMoisture)
	require.NoError(t, err)
	assert.Nil(t, missing)

	since := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(ctx, alarms.Episode{
		DeviceID: "D1", Parameter: telemetry.ParamMoisture, State: alarms.EpisodeOutside, Since: since, LastValue: 80,
		LastAt: since.Add(time.Minute),
	}))

	got, err := store.Get(ctx, "D1", telemetry.ParamMoisture)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Outside())
	assert.True(t, got.Since.Equal(since))
	assert.Equal(t, 80.0, got.LastValue)
	assert.True(t, got.LastAt.Equal(since.Add(time.Minute)))
}

func TestEpisodeDeleteByDevice(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, alarms.Episode{DeviceID: "D1", Parameter: telemetry.ParamPH, State: alarms.EpisodeInside}))
	require.NoError(t, store.Put(ctx, alarms.Episode{DeviceID: "D2", Parameter: telemetry.ParamPH, State: alarms.EpisodeOutside}))

	require.NoError(t, store.DeleteByDevice(ctx, "D1"))
	assert.False(t, mr.Exists("agrisense:episodes:D1"))
	assert.True(t, mr.Exists("agrisense:episodes:D2"))
}

func TestEpisodeStoreSurfacesOutage(t *testing.T) {
	store, mr := newStore(t)
	mr.Close()
	_, err := store.Get(context.Background(), "D1", telemetry.ParamPH)
	assert.Error(t, err)
}
