package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"formulachat/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database configured under the given driver name.
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
		// A :memory: DSN exists per connection, and file DSNs allow only
		// one writer, so the pool must stay at a single connection.
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
			`CREATE TABLE IF NOT EXISTS users (
				user_id TEXT PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				email TEXT NOT NULL,
				password_hash TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS user_sessions (
				session_id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				token TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(user_id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS chats (
				chat_id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				title TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(user_id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				message_id TEXT PRIMARY KEY,
				chat_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				timestamp DATETIME NOT NULL,
				FOREIGN KEY(chat_id) REFERENCES chats(chat_id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_user_sessions_user ON user_sessions(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				user_id CHAR(36) NOT NULL,
				username VARCHAR(50) NOT NULL UNIQUE,
				email VARCHAR(100) NOT NULL,
				password_hash TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (user_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS user_sessions (
				session_id CHAR(36) NOT NULL,
				user_id CHAR(36) NOT NULL,
				token TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				PRIMARY KEY (session_id),
				INDEX idx_user_sessions_user (user_id),
				CONSTRAINT fk_user_sessions_user FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS chats (
				chat_id CHAR(36) NOT NULL,
				user_id CHAR(36) NOT NULL,
				title VARCHAR(100) NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (chat_id),
				INDEX idx_chats_user (user_id),
				CONSTRAINT fk_chats_user FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS messages (
				message_id CHAR(36) NOT NULL,
				chat_id CHAR(36) NOT NULL,
				role VARCHAR(20) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				timestamp DATETIME NOT NULL,
				PRIMARY KEY (message_id),
				INDEX idx_messages_chat (chat_id),
				CONSTRAINT fk_messages_chat FOREIGN KEY (chat_id) REFERENCES chats(chat_id) ON DELETE CASCADE
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
