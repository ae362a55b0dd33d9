package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/irfndi/tradepilot/internal/config"
	"go.uber.org/zap"
)

// Database abstracts both PostgreSQL and SQLite connections.
type Database interface {
	DBPool
	Close() error
	HealthCheck(ctx context.Context) error
}

// NewDatabaseConnection opens the database selected by cfg.Driver.
//
// Parameters:
//   - ctx: Context bounding connection establishment.
//   - cfg: Database configuration containing driver type and connection parameters.
//   - logger: Logger for connection events; nil disables logging.
//
// Returns:
//   - Database: The initialized database connection.
//   - error: Error if the driver is unsupported or the connection fails.
func NewDatabaseConnection(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (Database, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		path := cfg.SQLitePath
		if path == "" {
			path = "tradepilot.db"
		}
		logger.Info("Connecting to SQLite database", zap.String("path", path))
		return NewSQLiteConnection(path)

	case "postgres", "postgresql":
		logger.Info("Connecting to PostgreSQL database",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.String("dbname", cfg.DBName))
		return NewPostgresConnection(ctx, cfg)

	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres)", driver)
	}
}
