package memorystorage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/sessionauth/internal/db/storage"
	"github.com/patric-chuzhbe/sessionauth/internal/models"
)

func TestMemoryStorage(t *testing.T) {
	var theStorage storage.DocumentStore
	theStorage, err := New()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, theStorage.Ping(ctx))
	require.NoError(t, theStorage.SetDocument(ctx, models.UsersCollection, "b@x.com", models.NewProfile()))

	var profile models.Profile
	found, err := theStorage.GetDocument(ctx, models.UsersCollection, "b@x.com", &profile)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{}, profile.SavedItems)

	assert.NoError(t, theStorage.Close())
}
