package database

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/irfndi/tradepilot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectRebind(t *testing.T) {
	q := "SELECT data FROM documents WHERE collection = ? AND id = ?"
	assert.Equal(t, q, DialectSQLite.Rebind(q))
	assert.Equal(t, "SELECT data FROM documents WHERE collection = $1 AND id = $2", DialectPostgres.Rebind(q))
}

func TestNewDatabaseConnection_SQLite(t *testing.T) {
	cfg := &config.DatabaseConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "test.db")}

	db, err := NewDatabaseConnection(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, DialectSQLite, db.Dialect())
	require.NoError(t, db.HealthCheck(context.Background()))

	_, err = db.Exec(context.Background(), "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	res, err := db.Exec(context.Background(), "INSERT INTO kv (k, v) VALUES (?, ?)", "a", "1")
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var v string
	require.NoError(t, db.QueryRow(context.Background(), "SELECT v FROM kv WHERE k = ?", "a").Scan(&v))
	assert.Equal(t, "1", v)
}

func TestNewDatabaseConnection_UnsupportedDriver(t *testing.T) {
	_, err := NewDatabaseConnection(context.Background(), &config.DatabaseConfig{Driver: "mysql"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestNewSQLiteConnection_RequiresPath(t *testing.T) {
	_, err := NewSQLiteConnection("  ")
	assert.Error(t, err)
}

func TestNewRedisConnection(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.RedisConfig{Host: mr.Host(), Port: atoiPort(t, mr.Port())}

	client, err := NewRedisConnection(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	assert.NoError(t, client.HealthCheck(context.Background()))
}

func TestNewRedisConnection_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	port := atoiPort(t, mr.Port())
	mr.Close()

	_, err := NewRedisConnection(context.Background(), config.RedisConfig{Host: "127.0.0.1", Port: port}, nil)
	assert.Error(t, err)
}

func atoiPort(t *testing.T, s string) int {
	t.Helper()
	port, err := strconv.Atoi(s)
	require.NoError(t, err)
	return port
}
