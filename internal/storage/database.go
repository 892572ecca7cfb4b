package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"curiousminds/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database (sqlite3 or mysql).
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// sqlite serialises writers; one connection avoids SQLITE_BUSY from the save workers.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS visitors (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				email TEXT NOT NULL DEFAULT '',
				phone TEXT NOT NULL DEFAULT '',
				city TEXT NOT NULL DEFAULT '',
				country TEXT NOT NULL DEFAULT '',
				lat REAL NOT NULL DEFAULT 0,
				lng REAL NOT NULL DEFAULT 0,
				flag TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS neural_comms (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				phone TEXT NOT NULL,
				audio TEXT NOT NULL,
				duration INTEGER NOT NULL,
				city TEXT NOT NULL DEFAULT '',
				country TEXT NOT NULL DEFAULT '',
				lat REAL NOT NULL DEFAULT 0,
				lng REAL NOT NULL DEFAULT 0,
				flag TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'UNREAD',
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_neural_comms_user ON neural_comms(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_neural_comms_created ON neural_comms(created_at DESC)`,
			`CREATE TABLE IF NOT EXISTS leads (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				email TEXT NOT NULL,
				first_query TEXT NOT NULL,
				city TEXT NOT NULL DEFAULT '',
				country TEXT NOT NULL DEFAULT '',
				lat REAL NOT NULL DEFAULT 0,
				lng REAL NOT NULL DEFAULT 0,
				flag TEXT NOT NULL DEFAULT '',
				device TEXT NOT NULL DEFAULT '',
				ip TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS demo_bookings (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				email TEXT NOT NULL,
				phone TEXT NOT NULL,
				grade TEXT NOT NULL,
				focus_area TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'PENDING',
				city TEXT NOT NULL DEFAULT '',
				country TEXT NOT NULL DEFAULT '',
				lat REAL NOT NULL DEFAULT 0,
				lng REAL NOT NULL DEFAULT 0,
				flag TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_demo_bookings_created ON demo_bookings(created_at DESC)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS visitors (
				id VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				email VARCHAR(255) NOT NULL DEFAULT '',
				phone VARCHAR(64) NOT NULL DEFAULT '',
				city VARCHAR(255) NOT NULL DEFAULT '',
				country VARCHAR(255) NOT NULL DEFAULT '',
				lat DOUBLE NOT NULL DEFAULT 0,
				lng DOUBLE NOT NULL DEFAULT 0,
				flag VARCHAR(16) NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS neural_comms (
				id VARCHAR(64) NOT NULL,
				user_id VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL,
				phone VARCHAR(64) NOT NULL,
				audio LONGTEXT NOT NULL,
				duration INT NOT NULL,
				city VARCHAR(255) NOT NULL DEFAULT '',
				country VARCHAR(255) NOT NULL DEFAULT '',
				lat DOUBLE NOT NULL DEFAULT 0,
				lng DOUBLE NOT NULL DEFAULT 0,
				flag VARCHAR(16) NOT NULL DEFAULT '',
				status VARCHAR(32) NOT NULL DEFAULT 'UNREAD',
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_neural_comms_user (user_id),
				INDEX idx_neural_comms_created (created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS leads (
				id VARCHAR(64) NOT NULL,
				user_id VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL,
				first_query TEXT NOT NULL,
				city VARCHAR(255) NOT NULL DEFAULT '',
				country VARCHAR(255) NOT NULL DEFAULT '',
				lat DOUBLE NOT NULL DEFAULT 0,
				lng DOUBLE NOT NULL DEFAULT 0,
				flag VARCHAR(16) NOT NULL DEFAULT '',
				device VARCHAR(32) NOT NULL DEFAULT '',
				ip VARCHAR(64) NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_leads_user (user_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS demo_bookings (
				id VARCHAR(64) NOT NULL,
				user_id VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL,
				phone VARCHAR(64) NOT NULL,
				grade VARCHAR(32) NOT NULL,
				focus_area VARCHAR(64) NOT NULL,
				status VARCHAR(32) NOT NULL DEFAULT 'PENDING',
				city VARCHAR(255) NOT NULL DEFAULT '',
				country VARCHAR(255) NOT NULL DEFAULT '',
				lat DOUBLE NOT NULL DEFAULT 0,
				lng DOUBLE NOT NULL DEFAULT 0,
				flag VARCHAR(16) NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_demo_bookings_created (created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
