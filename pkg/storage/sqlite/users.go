package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/marmos91/dittochat/pkg/storage"
)

func (s *SQLiteStore) AddUser(ctx context.Context, user, password string) (storage.UserID, error) {
	if user == "" {
		return 0, storage.NewError(storage.ErrInvalidArgument, "username must not be empty")
	}
	hash, err := storage.HashPassword(password)
	if err != nil {
		return 0, err
	}

	var id storage.UserID
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE name = ?`, user).Scan(&existing)
		if err == nil {
			return storage.NewError(storage.ErrAlreadyExists, "user %q already exists", user)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return storage.WrapIO(err, "look up user %q", user)
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO users (name, password) VALUES (?, ?)`, user, hash)
		if err != nil {
			return storage.WrapIO(err, "insert user")
		}
		last, err := res.LastInsertId()
		if err != nil {
			return storage.WrapIO(err, "read user id")
		}
		id = storage.UserID(last)
		return nil
	})
	return id, err
}

func (s *SQLiteStore) UpdateUserPassword(ctx context.Context, user storage.UserID, password string) error {
	hash, err := storage.HashPassword(password)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireUser(ctx, tx, user); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET password = ? WHERE id = ?`, hash, user); err != nil {
			return storage.WrapIO(err, "update password")
		}
		return nil
	})
}

func (s *SQLiteStore) RenameUser(ctx context.Context, user storage.UserID, newName string) error {
	if newName == "" {
		return storage.NewError(storage.ErrInvalidArgument, "username must not be empty")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireUser(ctx, tx, user); err != nil {
			return err
		}
		var other int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE name = ?`, newName).Scan(&other)
		if err == nil && storage.UserID(other) != user {
			return storage.NewError(storage.ErrAlreadyExists, "user %q already exists", newName)
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return storage.WrapIO(err, "look up user %q", newName)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET name = ? WHERE id = ?`, newName, user); err != nil {
			return storage.WrapIO(err, "rename user")
		}
		return nil
	})
}

func (s *SQLiteStore) ValidateUser(ctx context.Context, user, password string) (storage.UserID, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	var (
		id   int64
		hash string
	)
	err = db.QueryRowContext(ctx, `SELECT id, password FROM users WHERE name = ?`, user).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		storage.BurnPasswordCheck(password)
		return 0, storage.InvalidCredentials()
	}
	if err != nil {
		return 0, storage.WrapIO(err, "look up user")
	}
	if !storage.CheckPassword(hash, password) {
		return 0, storage.InvalidCredentials()
	}
	return storage.UserID(id), nil
}

func (s *SQLiteStore) DelUser(ctx context.Context, user storage.UserID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireUser(ctx, tx, user); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, user); err != nil {
			return storage.WrapIO(err, "delete user")
		}
		return nil
	})
}

func (s *SQLiteStore) SetUserSetting(ctx context.Context, user storage.UserID, name string, data any) error {
	blob, err := storage.EncodeValue(data)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireUser(ctx, tx, user); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_settings (user_id, name, value) VALUES (?, ?, ?)
			ON CONFLICT (user_id, name) DO UPDATE SET value = excluded.value`,
			user, name, blob)
		if err != nil {
			return storage.WrapIO(err, "store user setting")
		}
		return nil
	})
}

func (s *SQLiteStore) GetUserSetting(ctx context.Context, user storage.UserID, name string, def any) (any, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err := requireUser(ctx, db, user); err != nil {
		return nil, err
	}

	var blob []byte
	err = db.QueryRowContext(ctx, `SELECT value FROM user_settings WHERE user_id = ? AND name = ?`, user, name).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return nil, storage.WrapIO(err, "read user setting")
	}
	var value any
	if err := storage.DecodeValue(blob, &value); err != nil {
		return nil, err
	}
	return value, nil
}
