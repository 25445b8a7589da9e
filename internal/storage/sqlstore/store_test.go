package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/AltairaLabs/compute-sessions/internal/coordinator"
	"github.com/AltairaLabs/compute-sessions/internal/coordinator/config"
	"github.com/AltairaLabs/compute-sessions/internal/storage/storetest"
)

func openTestDB(t *testing.T, prefix string) *gorm.DB {
	t.Helper()
	db, err := Open(config.StoreConfig{
		Driver:             config.StoreSQLite,
		DSN:                ":memory:",
		MaxOpenConnections: 1,
		MaxIdleConnections: 1,
		TablePrefix:        prefix,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) coordinator.SessionStore {
		s, err := New(openTestDB(t, ""))
		require.NoError(t, err)
		return s
	})
}

func TestTableNames(t *testing.T) {
	db := openTestDB(t, "cs_")
	_, err := New(db)
	require.NoError(t, err)

	for _, table := range []string{"cs_sessions", "cs_cells", "cs_output_msgs"} {
		assert.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(config.StoreConfig{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}

func TestUpdateWithNoFieldsChecksExistence(t *testing.T) {
	s, err := New(openTestDB(t, ""))
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, s.UpdateSession(ctx, 1, coordinator.SessionUpdate{}), coordinator.ErrNotFound)

	require.NoError(t, s.CreateSession(ctx, &coordinator.Session{ID: 1, Status: coordinator.SessionStatusReady}))
	assert.NoError(t, s.UpdateSession(ctx, 1, coordinator.SessionUpdate{}))
}
