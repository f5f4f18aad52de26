// Package storetest holds behaviour checks shared by every store driver.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/doorgraph/internal/schema"
	"github.com/JonMunkholm/doorgraph/internal/store"
)

// Run exercises a driver. newStore must return an empty store per call.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("LatestSnapshotEmpty", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LatestSnapshot(context.Background())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("SnapshotVersionsIncrease", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.SaveSnapshot(ctx, []byte(`{"A":{"floor":1}}`))
		require.NoError(t, err)
		second, err := s.SaveSnapshot(ctx, []byte(`{"B":{"floor":2}}`))
		require.NoError(t, err)
		assert.Greater(t, second.Version, first.Version)

		latest, err := s.LatestSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.Version, latest.Version)
		assert.JSONEq(t, `{"B":{"floor":2}}`, string(latest.Data))
		assert.False(t, latest.CreatedAt.IsZero())
	})

	t.Run("PruneKeepsNewest", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var last store.SnapshotRecord
		for i := 0; i < 5; i++ {
			rec, err := s.SaveSnapshot(ctx, []byte(`{}`))
			require.NoError(t, err)
			last = rec
		}

		n, err := s.PruneSnapshots(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		n, err = s.PruneSnapshots(ctx, 2)
		require.NoError(t, err)
		assert.Zero(t, n)

		latest, err := s.LatestSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, last.Version, latest.Version)

		n, err = s.PruneSnapshots(ctx, 0)
		require.NoError(t, err)
		assert.Zero(t, n, "keep < 1 is a no-op")
	})

	t.Run("MappingUpsert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sig := `["device","time","user"]`

		_, err := s.GetMapping(ctx, sig)
		assert.ErrorIs(t, err, store.ErrNotFound)

		m := schema.ColumnMapping{
			schema.FieldDoorID:    "Device",
			schema.FieldUserID:    "User",
			schema.FieldEventType: "Event",
			schema.FieldTimestamp: "Time",
		}
		require.NoError(t, s.PutMapping(ctx, sig, m))

		m2 := m.Clone()
		m2[schema.FieldEventType] = "Result"
		require.NoError(t, s.PutMapping(ctx, sig, m2))

		got, err := s.GetMapping(ctx, sig)
		require.NoError(t, err)
		assert.Equal(t, m2, got)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}
