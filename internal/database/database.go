// Package database provisions a MySQL schema per shard so workers never share state.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"shardrun/internal/config"
)

// DatabaseManager creates and drops per-shard schemas
type DatabaseManager struct {
	config *config.Config
	logger *zap.Logger

	mu sync.Mutex
	db *sql.DB
}

// NewDatabaseManager creates a new DatabaseManager
func NewDatabaseManager(cfg *config.Config, logger *zap.Logger) *DatabaseManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatabaseManager{config: cfg, logger: logger}
}

// DSN returns the server connection string, without a default schema
func (dm *DatabaseManager) DSN() string {
	c := mysql.NewConfig()
	c.User = dm.config.Database.Username
	c.Passwd = dm.config.Database.Password
	c.Net = "tcp"
	c.Addr = dm.config.Database.Host + ":" + strconv.Itoa(dm.config.Database.Port)
	return c.FormatDSN()
}

func (dm *DatabaseManager) conn(ctx context.Context) (*sql.DB, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.db != nil {
		return dm.db, nil
	}

	db, err := sql.Open("mysql", dm.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database server: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database server: %w", err)
	}
	dm.db = db
	return db, nil
}

// Provision creates the schema of a worker and returns the command placeholder
// replacements that point the worker at it.
func (dm *DatabaseManager) Provision(ctx context.Context, worker string) (map[string]string, error) {
	dbName := dm.config.GetDatabaseName(worker)
	if !isValidDatabaseName(dbName) {
		return nil, fmt.Errorf("invalid database name: %s", dbName)
	}
	db, err := dm.conn(ctx)
	if err != nil {
		return nil, err
	}

	exists, err := databaseExists(ctx, db, dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to check database %s: %w", dbName, err)
	}
	if !exists {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbName)); err != nil {
			return nil, fmt.Errorf("failed to create database %s: %w", dbName, err)
		}
		dm.logger.Info("created database", zap.String("database", dbName), zap.String("worker", worker))
		if err := dm.setupSchema(ctx, dbName); err != nil {
			return nil, err
		}
	}

	return map[string]string{dm.placeholder(): dbName}, nil
}

// Release drops the schema of a worker. A missing schema is not an error.
func (dm *DatabaseManager) Release(ctx context.Context, worker string) error {
	dbName := dm.config.GetDatabaseName(worker)
	if !isValidDatabaseName(dbName) {
		return fmt.Errorf("invalid database name: %s", dbName)
	}
	db, err := dm.conn(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", dbName)); err != nil {
		return fmt.Errorf("failed to drop database %s: %w", dbName, err)
	}
	dm.logger.Info("dropped database", zap.String("database", dbName))
	return nil
}

// Close releases the server connection
func (dm *DatabaseManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.db == nil {
		return nil
	}
	err := dm.db.Close()
	dm.db = nil
	return err
}

func (dm *DatabaseManager) placeholder() string {
	if dm.config.Database.Placeholder != "" {
		return dm.config.Database.Placeholder
	}
	return config.DefaultDatabasePlaceholder
}

// databaseExists checks if a database exists
func databaseExists(ctx context.Context, db *sql.DB, dbName string) (bool, error) {
	var exists bool
	query := "SELECT EXISTS(SELECT SCHEMA_NAME FROM INFORMATION_SCHEMA.SCHEMATA WHERE SCHEMA_NAME = ?)"
	err := db.QueryRowContext(ctx, query, dbName).Scan(&exists)
	return exists, err
}

// isValidDatabaseName only accepts names safe to splice into a backquoted identifier
func isValidDatabaseName(name string) bool {
	if len(name) == 0 || len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return !strings.HasPrefix(name, "-")
}
