package donor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenSQLite(t *testing.T) {
	t.Parallel()

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "platform.db"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.True(t, db.Migrator().HasTable(&Record{}))
	require.True(t, db.Migrator().HasTable(&ContactRecord{}))
	require.True(t, db.Migrator().HasTable(&PlaceRecord{}))

	repo, err := NewRepository(RepositoryConfig{Database: db})
	require.NoError(t, err)
	donors, err := repo.ActiveDonors(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Empty(t, donors)
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := OpenSQLite("")
	require.ErrorContains(t, err, "database path is required")
}
