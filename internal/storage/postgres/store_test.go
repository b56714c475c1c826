package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/homeservices-identity/internal/models"
	"github.com/hongminglow/homeservices-identity/internal/storage"
)

func TestBuildSet_OrdersWhitelistedColumns(t *testing.T) {
	t.Parallel()

	patch, _, err := storage.CustomerProfileFields.Filter(map[string]any{
		"phone":     "+15550001",
		"address":   "1 Main St",
		"full_name": "Alice",
		"user_id":   "someone-else",
	})
	require.NoError(t, err)

	set, args, err := buildSet(patch, storage.ProfileFields(models.RoleCustomer))
	require.NoError(t, err)
	assert.Equal(t, "address = $1, full_name = $2, phone = $3", set)
	assert.Equal(t, []any{"1 Main St", "Alice", "+15550001"}, args)
}

func TestBuildSet_RejectsForeignPatch(t *testing.T) {
	t.Parallel()

	patch, _, err := storage.WorkerProfileFields.Filter(map[string]any{"status": "online"})
	require.NoError(t, err)

	_, _, err = buildSet(patch, storage.UserFields)
	require.ErrorIs(t, err, storage.ErrInvalidPatch)

	_, _, err = buildSet(storage.Patch{}, storage.UserFields)
	require.ErrorIs(t, err, storage.ErrInvalidPatch)
}

func TestCanonicalID(t *testing.T) {
	t.Parallel()

	id, ok := canonicalID("6F9619FF-8B86-D011-B42D-00C04FC964FF")
	require.True(t, ok)
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00c04fc964ff", id)

	_, ok = canonicalID("not-a-uuid")
	assert.False(t, ok)
}

func TestProfileTable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "worker_profiles", profileTable(models.RoleWorker))
	assert.Equal(t, "customer_profiles", profileTable(models.RoleCustomer))
}
