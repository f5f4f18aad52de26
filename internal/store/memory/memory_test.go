package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/doorgraph/internal/store"
	"github.com/JonMunkholm/doorgraph/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}

func TestRegistered(t *testing.T) {
	s, err := store.Open(context.Background(), "memory", store.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
