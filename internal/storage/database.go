package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"attachflow/internal/config"
)

// Driver normalizes a configured database type to its database/sql driver name.
func Driver(dbType string) (string, error) {
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	case "mysql":
		return "mysql", nil
	}
	return "", fmt.Errorf("unsupported driver: %s", dbType)
}

// Open connects to the database configured under dbType.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}
	return OpenWith(dbType, dbCfg)
}

// OpenWith connects with an explicit database entry.
func OpenWith(dbType string, dbCfg config.DatabaseConfig) (*sql.DB, error) {
	driver, err := Driver(dbType)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch driver {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open(driver, dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if strings.Contains(dbCfg.DSN, ":memory:") {
			// every pooled connection would get its own empty database
			db.SetMaxOpenConns(1)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the draft tables are present.
func Migrate(db *sql.DB, dbType string) error {
	driver, err := Driver(dbType)
	if err != nil {
		return fmt.Errorf("unsupported driver for migration: %s", dbType)
	}

	var stmts []string
	switch driver {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS attachment_drafts (
				session_id TEXT PRIMARY KEY,
				media_accepted INTEGER NOT NULL DEFAULT 1,
				payload TEXT NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_attachment_drafts_updated_at ON attachment_drafts(updated_at DESC)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS attachment_drafts (
				session_id VARCHAR(255) NOT NULL,
				media_accepted TINYINT(1) NOT NULL DEFAULT 1,
				payload LONGTEXT NOT NULL,
				updated_at DATETIME(3) NOT NULL,
				PRIMARY KEY (session_id),
				INDEX idx_attachment_drafts_updated_at (updated_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
