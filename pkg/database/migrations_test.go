package database

import (
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func schemaFS() fstest.MapFS {
	return fstest.MapFS{
		"002_audit.sql":          {Data: []byte("CREATE TABLE audit_logs (id INTEGER)")},
		"001_initial_schema.sql": {Data: []byte("CREATE TABLE expenses (id TEXT)")},
		"README.md":              {Data: []byte("ignored")},
	}
}

func TestLoadMigrations_SortedByVersion(t *testing.T) {
	migrations, err := LoadMigrations(schemaFS())
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "initial_schema", migrations[0].Name)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, "audit", migrations[1].Name)
}

func TestLoadMigrations_BadFilename(t *testing.T) {
	_, err := LoadMigrations(fstest.MapFS{"init.sql": {Data: []byte("SELECT 1")}})
	assert.Error(t, err)
}

func TestRun_SkipsAppliedVersions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs(2, "audit").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, NewMigrator(db, zap.NewNop()).Run(schemaFS()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
