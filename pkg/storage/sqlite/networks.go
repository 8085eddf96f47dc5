package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/marmos91/dittochat/pkg/storage"
)

func networkNameTaken(ctx context.Context, q querier, user storage.UserID, name string, except storage.NetworkID) (bool, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`SELECT id FROM networks WHERE user_id = ? AND name = ? AND id != ?`, user, name, except).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storage.WrapIO(err, "look up network %q", name)
	}
	return true, nil
}

func (s *SQLiteStore) CreateNetwork(ctx context.Context, user storage.UserID, info storage.NetworkInfo) (storage.NetworkID, error) {
	if info.NetworkName == "" {
		return 0, storage.NewError(storage.ErrInvalidArgument, "network name must not be empty")
	}
	info.NetworkID = 0
	blob, err := storage.EncodeValue(info)
	if err != nil {
		return 0, err
	}

	var id storage.NetworkID
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireUser(ctx, tx, user); err != nil {
			return err
		}
		taken, err := networkNameTaken(ctx, tx, user, info.NetworkName, 0)
		if err != nil {
			return err
		}
		if taken {
			return storage.NewError(storage.ErrAlreadyExists, "network %q already exists", info.NetworkName)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO networks (user_id, name, info) VALUES (?, ?, ?)`, user, info.NetworkName, blob)
		if err != nil {
			return storage.WrapIO(err, "insert network")
		}
		last, err := res.LastInsertId()
		if err != nil {
			return storage.WrapIO(err, "read network id")
		}
		id = storage.NetworkID(last)
		return nil
	})
	return id, err
}

func (s *SQLiteStore) UpdateNetwork(ctx context.Context, user storage.UserID, info storage.NetworkInfo) error {
	blob, err := storage.EncodeValue(info)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireNetwork(ctx, tx, user, info.NetworkID); err != nil {
			return err
		}
		if info.NetworkName == "" {
			return storage.NewError(storage.ErrInvalidArgument, "network name must not be empty")
		}
		taken, err := networkNameTaken(ctx, tx, user, info.NetworkName, info.NetworkID)
		if err != nil {
			return err
		}
		if taken {
			return storage.NewError(storage.ErrAlreadyExists, "network %q already exists", info.NetworkName)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE networks SET name = ?, info = ? WHERE id = ?`, info.NetworkName, blob, info.NetworkID); err != nil {
			return storage.WrapIO(err, "update network")
		}
		return nil
	})
}

func (s *SQLiteStore) RemoveNetwork(ctx context.Context, user storage.UserID, network storage.NetworkID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireNetwork(ctx, tx, user, network); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM networks WHERE id = ?`, network); err != nil {
			return storage.WrapIO(err, "delete network")
		}
		return nil
	})
}

func (s *SQLiteStore) Networks(ctx context.Context, user storage.UserID) ([]storage.NetworkInfo, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err := requireUser(ctx, db, user); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, info FROM networks WHERE user_id = ? ORDER BY id`, user)
	if err != nil {
		return nil, storage.WrapIO(err, "list networks")
	}
	defer rows.Close()

	out := make([]storage.NetworkInfo, 0)
	for rows.Next() {
		var (
			id   int64
			blob []byte
			info storage.NetworkInfo
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, storage.WrapIO(err, "scan network")
		}
		if err := storage.DecodeValue(blob, &info); err != nil {
			return nil, err
		}
		info.NetworkID = storage.NetworkID(id)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.WrapIO(err, "list networks")
	}
	return out, nil
}

func (s *SQLiteStore) NetworkID(ctx context.Context, user storage.UserID, name string) (storage.NetworkID, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var id int64
	err = db.QueryRowContext(ctx, `SELECT id FROM networks WHERE user_id = ? AND name = ?`, user, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.NewError(storage.ErrNotFound, "network %q not found", name)
	}
	if err != nil {
		return 0, storage.WrapIO(err, "look up network %q", name)
	}
	return storage.NetworkID(id), nil
}

func (s *SQLiteStore) ConnectedNetworks(ctx context.Context, user storage.UserID) ([]storage.NetworkID, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err := requireUser(ctx, db, user); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id FROM networks WHERE user_id = ? AND connected = 1 ORDER BY id`, user)
	if err != nil {
		return nil, storage.WrapIO(err, "list connected networks")
	}
	defer rows.Close()

	out := make([]storage.NetworkID, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storage.WrapIO(err, "scan network id")
		}
		out = append(out, storage.NetworkID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, storage.WrapIO(err, "list connected networks")
	}
	return out, nil
}

func (s *SQLiteStore) SetNetworkConnected(ctx context.Context, user storage.UserID, network storage.NetworkID, connected bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireNetwork(ctx, tx, user, network); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE networks SET connected = ? WHERE id = ?`, connected, network); err != nil {
			return storage.WrapIO(err, "update network state")
		}
		return nil
	})
}

func (s *SQLiteStore) PersistentChannels(ctx context.Context, user storage.UserID, network storage.NetworkID) (map[string]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err := requireNetwork(ctx, db, user, network); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT name, key FROM persistent_channels WHERE network_id = ?`, network)
	if err != nil {
		return nil, storage.WrapIO(err, "list persistent channels")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, key string
		if err := rows.Scan(&name, &key); err != nil {
			return nil, storage.WrapIO(err, "scan persistent channel")
		}
		out[name] = key
	}
	if err := rows.Err(); err != nil {
		return nil, storage.WrapIO(err, "list persistent channels")
	}
	return out, nil
}

func (s *SQLiteStore) SetChannelPersistent(ctx context.Context, user storage.UserID, network storage.NetworkID, channel string, joined bool) error {
	norm := storage.NormalizeBufferName(channel)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireNetwork(ctx, tx, user, network); err != nil {
			return err
		}
		var err error
		if joined {
			_, err = tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO persistent_channels (network_id, norm, name) VALUES (?, ?, ?)`,
				network, norm, channel)
		} else {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM persistent_channels WHERE network_id = ? AND norm = ?`, network, norm)
		}
		if err != nil {
			return storage.WrapIO(err, "update persistent channel")
		}
		return nil
	})
}

func (s *SQLiteStore) SetPersistentChannelKey(ctx context.Context, user storage.UserID, network storage.NetworkID, channel, key string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireNetwork(ctx, tx, user, network); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE persistent_channels SET key = ? WHERE network_id = ? AND norm = ?`,
			key, network, storage.NormalizeBufferName(channel)); err != nil {
			return storage.WrapIO(err, "update channel key")
		}
		return nil
	})
}
