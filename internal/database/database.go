// Package database keeps the resolver's local state in sqlite: the node's
// persistent peer identity and the peers known to serve each service.
package database

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/Laisky/errors/v2"
	_ "github.com/mattn/go-sqlite3"
)

type StateDB struct {
	db *sql.DB
}

// Open opens (creating if needed) the state database at path.
// The node table stores key-value pairs for this node.
// The service_peers table caches peers that answered RPCs for a service.
func Open(path string) (*StateDB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrapf(err, "create state dir `%s`", dir)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open state db `%s`", path)
	}
	// single writer; pooled connections would race into SQLITE_BUSY
	db.SetMaxOpenConns(1)

	createTables := `
	CREATE TABLE IF NOT EXISTS node (
		key TEXT NOT NULL PRIMARY KEY,
		value TEXT
	);
	CREATE TABLE IF NOT EXISTS service_peers (
		service TEXT NOT NULL,
		peer_id TEXT NOT NULL,
		addrs TEXT NULL,
		last_seen INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (service, peer_id)
	);
	CREATE INDEX IF NOT EXISTS idx_service_peers_last_seen ON service_peers(service, last_seen);
	`
	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create tables")
	}
	return &StateDB{db: db}, nil
}

func (db *StateDB) Close() error {
	return db.db.Close()
}
