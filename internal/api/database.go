package api

import (
	"database/sql"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// InitDatabase opens (creating if needed) the audit database at path
// and ensures its schema exists.
func InitDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, err
	}
	if err := createTables(db); err != nil {
		return nil, err
	}
	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		csrf_token TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS command_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		command_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		command TEXT NOT NULL,
		status TEXT NOT NULL,
		dispatched_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_command_audit_client ON command_audit(client_id);
	CREATE INDEX IF NOT EXISTS idx_command_audit_command ON command_audit(command_id);
	`
	_, err := db.Exec(schema)
	return err
}
