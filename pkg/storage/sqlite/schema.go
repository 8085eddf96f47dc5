package sqlite

import "strings"

const schema = `
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		name     TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_settings (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name    TEXT NOT NULL,
		value   BLOB NOT NULL,
		PRIMARY KEY (user_id, name)
	);

	CREATE TABLE IF NOT EXISTS networks (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id   INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name      TEXT NOT NULL,
		info      BLOB NOT NULL,
		connected INTEGER NOT NULL DEFAULT 0,
		UNIQUE (user_id, name)
	);

	CREATE TABLE IF NOT EXISTS persistent_channels (
		network_id INTEGER NOT NULL REFERENCES networks(id) ON DELETE CASCADE,
		norm       TEXT NOT NULL,
		name       TEXT NOT NULL,
		key        TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (network_id, norm)
	);

	CREATE TABLE IF NOT EXISTS buffers (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		network_id INTEGER NOT NULL REFERENCES networks(id) ON DELETE CASCADE,
		type       INTEGER NOT NULL,
		group_id   INTEGER NOT NULL DEFAULT 0,
		name       TEXT NOT NULL,
		norm       TEXT NOT NULL,
		last_seen  INTEGER NOT NULL DEFAULT 0,
		UNIQUE (network_id, norm)
	);

	CREATE TABLE IF NOT EXISTS backlog (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		buffer_id INTEGER NOT NULL REFERENCES buffers(id) ON DELETE CASCADE,
		time      INTEGER NOT NULL,
		type      INTEGER NOT NULL,
		flags     INTEGER NOT NULL,
		sender    TEXT NOT NULL,
		contents  TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_backlog_buffer ON backlog(buffer_id, id);
	CREATE INDEX IF NOT EXISTS idx_backlog_buffer_time ON backlog(buffer_id, time);
`

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
