package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/marmos91/dittochat/pkg/storage"
)

const bufferColumns = `id, network_id, type, group_id, name`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuffer(row rowScanner) (storage.BufferInfo, error) {
	var info storage.BufferInfo
	err := row.Scan(&info.BufferID, &info.NetworkID, &info.Type, &info.GroupID, &info.Name)
	return info, err
}

func findBuffer(ctx context.Context, q querier, network storage.NetworkID, name string) (storage.BufferInfo, bool, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+bufferColumns+` FROM buffers WHERE network_id = ? AND norm = ?`,
		network, storage.NormalizeBufferName(name))
	info, err := scanBuffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return info, false, nil
	}
	if err != nil {
		return info, false, storage.WrapIO(err, "look up buffer %q", name)
	}
	return info, true, nil
}

func getBuffer(ctx context.Context, q querier, user storage.UserID, buffer storage.BufferID) (storage.BufferInfo, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+bufferColumns+` FROM buffers WHERE id = ? AND user_id = ?`, buffer, user)
	info, err := scanBuffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return info, storage.NewError(storage.ErrNotFound, "buffer %d not found", buffer)
	}
	if err != nil {
		return info, storage.WrapIO(err, "look up buffer %d", buffer)
	}
	return info, nil
}

func (s *SQLiteStore) BufferInfo(ctx context.Context, user storage.UserID, network storage.NetworkID, bufType storage.BufferType, name string) (storage.BufferInfo, error) {
	var info storage.BufferInfo
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireNetwork(ctx, tx, user, network); err != nil {
			return err
		}
		existing, found, err := findBuffer(ctx, tx, network, name)
		if err != nil {
			return err
		}
		if found {
			info = existing
			return nil
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO buffers (user_id, network_id, type, name, norm) VALUES (?, ?, ?, ?, ?)`,
			user, network, bufType, name, storage.NormalizeBufferName(name))
		if err != nil {
			return storage.WrapIO(err, "insert buffer")
		}
		last, err := res.LastInsertId()
		if err != nil {
			return storage.WrapIO(err, "read buffer id")
		}
		info = storage.BufferInfo{
			BufferID:  storage.BufferID(last),
			NetworkID: network,
			Type:      bufType,
			Name:      name,
		}
		return nil
	})
	return info, err
}

func (s *SQLiteStore) GetBufferInfo(ctx context.Context, user storage.UserID, buffer storage.BufferID) (storage.BufferInfo, error) {
	db, err := s.conn()
	if err != nil {
		return storage.BufferInfo{}, err
	}
	return getBuffer(ctx, db, user, buffer)
}

func (s *SQLiteStore) RequestBuffers(ctx context.Context, user storage.UserID) ([]storage.BufferInfo, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err := requireUser(ctx, db, user); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+bufferColumns+` FROM buffers WHERE user_id = ? ORDER BY id`, user)
	if err != nil {
		return nil, storage.WrapIO(err, "list buffers")
	}
	defer rows.Close()

	out := make([]storage.BufferInfo, 0)
	for rows.Next() {
		info, err := scanBuffer(rows)
		if err != nil {
			return nil, storage.WrapIO(err, "scan buffer")
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.WrapIO(err, "list buffers")
	}
	return out, nil
}

func (s *SQLiteStore) RequestBufferIDsForNetwork(ctx context.Context, user storage.UserID, network storage.NetworkID) ([]storage.BufferID, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err := requireNetwork(ctx, db, user, network); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id FROM buffers WHERE network_id = ? ORDER BY id`, network)
	if err != nil {
		return nil, storage.WrapIO(err, "list buffers")
	}
	defer rows.Close()

	out := make([]storage.BufferID, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storage.WrapIO(err, "scan buffer id")
		}
		out = append(out, storage.BufferID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, storage.WrapIO(err, "list buffers")
	}
	return out, nil
}

func (s *SQLiteStore) RemoveBuffer(ctx context.Context, user storage.UserID, buffer storage.BufferID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getBuffer(ctx, tx, user, buffer); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM buffers WHERE id = ?`, buffer); err != nil {
			return storage.WrapIO(err, "delete buffer")
		}
		return nil
	})
}

func (s *SQLiteStore) RenameBuffer(ctx context.Context, user storage.UserID, network storage.NetworkID, newName, oldName string) (storage.BufferID, error) {
	var id storage.BufferID
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireNetwork(ctx, tx, user, network); err != nil {
			return err
		}
		old, found, err := findBuffer(ctx, tx, network, oldName)
		if err != nil {
			return err
		}
		if !found {
			return storage.NewError(storage.ErrNotFound, "buffer %q not found", oldName)
		}
		other, found, err := findBuffer(ctx, tx, network, newName)
		if err != nil {
			return err
		}
		if found && other.BufferID != old.BufferID {
			return storage.NewError(storage.ErrAlreadyExists, "buffer %q already exists", newName)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE buffers SET name = ?, norm = ? WHERE id = ?`,
			newName, storage.NormalizeBufferName(newName), old.BufferID); err != nil {
			return storage.WrapIO(err, "rename buffer")
		}
		id = old.BufferID
		return nil
	})
	return id, err
}

func (s *SQLiteStore) SetBufferLastSeenMsg(ctx context.Context, user storage.UserID, buffer storage.BufferID, msg storage.MsgID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getBuffer(ctx, tx, user, buffer); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE buffers SET last_seen = ? WHERE id = ?`, msg, buffer); err != nil {
			return storage.WrapIO(err, "update last seen")
		}
		return nil
	})
}

func (s *SQLiteStore) BufferLastSeenMsgIDs(ctx context.Context, user storage.UserID) (map[storage.BufferID]storage.MsgID, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err := requireUser(ctx, db, user); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, last_seen FROM buffers WHERE user_id = ? AND last_seen > 0`, user)
	if err != nil {
		return nil, storage.WrapIO(err, "list last seen")
	}
	defer rows.Close()

	out := make(map[storage.BufferID]storage.MsgID)
	for rows.Next() {
		var buffer, msg int64
		if err := rows.Scan(&buffer, &msg); err != nil {
			return nil, storage.WrapIO(err, "scan last seen")
		}
		out[storage.BufferID(buffer)] = storage.MsgID(msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.WrapIO(err, "list last seen")
	}
	return out, nil
}
