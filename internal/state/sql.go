package state

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore backs Store with a database/sql handle, driven by DSN scheme:
// a "sqlite3://" prefix opens a local sqlite3 file (mattn/go-sqlite3);
// anything else is handed to go-sql-driver/mysql as-is. Grounded on the
// teacher's internal/svc/sqlite and internal/svc/mysql services, which
// open connections the same way but for the scripting language's ad-hoc
// SQL capability rather than a fixed schema.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQLStore opens dsn and ensures the two tables this package needs
// exist: a (actor_name, key) blob table and a restart_events audit log
// (spec §8 scenario 6).
func OpenSQLStore(dsn string) (*SQLStore, error) {
	driver := "mysql"
	connStr := dsn
	if strings.HasPrefix(dsn, "sqlite3://") {
		driver = "sqlite3"
		connStr = strings.TrimPrefix(dsn, "sqlite3://")
	}
	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, err
	}
	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS actor_state (
			actor_name VARCHAR(255) NOT NULL,
			key_name   VARCHAR(255) NOT NULL,
			value      BLOB,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (actor_name, key_name)
		)`,
		`CREATE TABLE IF NOT EXISTS restart_events (
			supervisor  VARCHAR(255) NOT NULL,
			child_index INT NOT NULL,
			actor_name  VARCHAR(255) NOT NULL,
			at          BIGINT NOT NULL,
			reason      VARCHAR(32) NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("state: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Put(actorName, key string, value []byte) error {
	switch s.driver {
	case "sqlite3":
		_, err := s.db.Exec(
			`INSERT INTO actor_state (actor_name, key_name, value, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(actor_name, key_name) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
			actorName, key, value, time.Now().UnixMilli())
		return err
	default:
		_, err := s.db.Exec(
			`INSERT INTO actor_state (actor_name, key_name, value, updated_at) VALUES (?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE value=VALUES(value), updated_at=VALUES(updated_at)`,
			actorName, key, value, time.Now().UnixMilli())
		return err
	}
}

func (s *SQLStore) Get(actorName, key string) ([]byte, bool, error) {
	row := s.db.QueryRow(`SELECT value FROM actor_state WHERE actor_name=? AND key_name=?`, actorName, key)
	var value []byte
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (s *SQLStore) Delete(actorName, key string) error {
	_, err := s.db.Exec(`DELETE FROM actor_state WHERE actor_name=? AND key_name=?`, actorName, key)
	return err
}

// RecordRestart appends one row to restart_events — the durable
// counterpart to supervisor's in-memory restart-rate ring buffer, used
// to make spec §8 scenario 6's throttle observable after the fact.
func (s *SQLStore) RecordRestart(supervisor string, childIndex int, actorName string, reason string) error {
	_, err := s.db.Exec(
		`INSERT INTO restart_events (supervisor, child_index, actor_name, at, reason) VALUES (?, ?, ?, ?, ?)`,
		supervisor, childIndex, actorName, time.Now().UnixMilli(), reason)
	return err
}

func (s *SQLStore) Close() error { return s.db.Close() }
