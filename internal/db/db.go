// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

package db // import "github.com/toeirei/keyward/internal/db"

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var embeddedMigrations embed.FS

// sqlOpenFunc allows tests to override database opening behavior.
var sqlOpenFunc = sql.Open

// backend describes one supported audit.type.
type backend struct {
	driver  string
	dialect func() schema.Dialect
	// versionType is the column type of schema_migrations.version.
	versionType string
}

var backends = map[string]backend{
	"sqlite":   {driver: "sqlite", dialect: func() schema.Dialect { return sqlitedialect.New() }, versionType: "TEXT"},
	"postgres": {driver: "pgx", dialect: func() schema.Dialect { return pgdialect.New() }, versionType: "TEXT"},
	// MySQL cannot index TEXT without a length.
	"mysql": {driver: "mysql", dialect: func() schema.Dialect { return mysqldialect.New() }, versionType: "VARCHAR(191)"},
}

func lookup(dbType string) (backend, error) {
	b, ok := backends[dbType]
	if !ok {
		return backend{}, fmt.Errorf("unsupported database type: '%s'", dbType)
	}
	return b, nil
}

// Open opens the audit database, applies pending migrations and returns a
// store backed by a long-lived *bun.DB. MySQL DSNs need parseTime=true.
func Open(dbType, dsn string) (*AuditStore, error) {
	b, err := lookup(dbType)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sqlOpenFunc(b.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	configurePool(sqlDB, dbType, dsn)

	start := time.Now()
	if err := RunMigrations(sqlDB, dbType); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	dbLogf("db: %s audit store ready in %s", dbType, time.Since(start))
	return &AuditStore{bun: bun.NewDB(sqlDB, b.dialect()), dbType: dbType}, nil
}

// configurePool applies the pool limits. KEYWARD_DB_MAX_OPEN_CONNS,
// KEYWARD_DB_MAX_IDLE_CONNS and KEYWARD_DB_CONN_MAX_LIFETIME_SECONDS
// override the defaults.
func configurePool(sqlDB *sql.DB, dbType, dsn string) {
	maxOpen := envInt("KEYWARD_DB_MAX_OPEN_CONNS", 10)
	maxIdle := envInt("KEYWARD_DB_MAX_IDLE_CONNS", 10)
	lifetime := time.Duration(envInt("KEYWARD_DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second

	// every connection to ":memory:" is a separate database
	if dbType == "sqlite" && dsn == ":memory:" {
		maxOpen, maxIdle = 1, 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)
	dbLogf("db: pool max open=%d idle=%d lifetime=%s", maxOpen, maxIdle, lifetime)
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// placeholder returns the n-th (1-based) bind parameter for dbType.
func placeholder(dbType string, n int) string {
	if dbType == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// RunMigrations applies the embedded *.up.sql files for dbType that are not
// yet recorded in schema_migrations, each in its own transaction.
func RunMigrations(db *sql.DB, dbType string) error {
	b, err := lookup(dbType)
	if err != nil {
		return err
	}
	dir := path.Join("migrations", dbType)
	ups, err := fs.Glob(embeddedMigrations, dir+"/*.up.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations in %s: %w", dir, err)
	}
	sort.Strings(ups)

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS schema_migrations (version %s PRIMARY KEY, applied_at TIMESTAMP)", b.versionType)
	if _, err := db.Exec(create); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := map[string]bool{}
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	_ = rows.Close()

	record := fmt.Sprintf("INSERT INTO schema_migrations(version, applied_at) VALUES(%s, %s)",
		placeholder(dbType, 1), placeholder(dbType, 2))
	for _, file := range ups {
		version := strings.TrimSuffix(path.Base(file), ".up.sql")
		if applied[version] {
			continue
		}
		data, err := embeddedMigrations.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(data)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", version, err)
		}
		if _, err := tx.Exec(record, version, time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", version, err)
		}
		dbLogf("db: applied migration %s", version)
	}
	return nil
}

// Maintain compacts the audit database after a purge: VACUUM and a WAL
// checkpoint on SQLite, VACUUM ANALYZE of key_events on PostgreSQL and
// OPTIMIZE TABLE on MySQL.
func (s *AuditStore) Maintain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	switch s.dbType {
	case "sqlite":
		// optimize is advisory and unsupported on some builds
		if _, err := ExecRaw(ctx, s.bun, "PRAGMA optimize"); err != nil {
			dbLogf("db: sqlite optimize failed (ignored): %v", err)
		}
		if _, err := ExecRaw(ctx, s.bun, "VACUUM"); err != nil {
			return fmt.Errorf("sqlite vacuum failed: %w", err)
		}
		_, _ = ExecRaw(ctx, s.bun, "PRAGMA wal_checkpoint(TRUNCATE)")
	case "postgres":
		if _, err := ExecRaw(ctx, s.bun, "VACUUM ANALYZE key_events"); err != nil {
			return fmt.Errorf("postgres vacuum failed: %w", err)
		}
	case "mysql":
		if _, err := ExecRaw(ctx, s.bun, "OPTIMIZE TABLE key_events"); err != nil {
			return fmt.Errorf("mysql optimize failed: %w", err)
		}
	}
	return nil
}
