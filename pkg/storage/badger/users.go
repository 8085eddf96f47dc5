package badger

import (
	"context"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittochat/pkg/storage"
)

type userRecord struct {
	Name string
	Hash string
}

func loadUser(txn *badger.Txn, user storage.UserID) (userRecord, error) {
	var rec userRecord
	found, err := getRecord(txn, keyUser(user), &rec)
	if err != nil {
		return rec, err
	}
	if !found {
		return rec, storage.NewError(storage.ErrNotFound, "user %d not found", user)
	}
	return rec, nil
}

func (s *BadgerStore) AddUser(ctx context.Context, user, password string) (storage.UserID, error) {
	if user == "" {
		return 0, storage.NewError(storage.ErrInvalidArgument, "username must not be empty")
	}
	hash, err := storage.HashPassword(password)
	if err != nil {
		return 0, err
	}

	var id storage.UserID
	err = s.update(func(txn *badger.Txn) error {
		if _, exists, err := getID(txn, keyUserName(user)); err != nil {
			return err
		} else if exists {
			return storage.NewError(storage.ErrAlreadyExists, "user %q already exists", user)
		}

		next, err := nextID(txn, "user")
		if err != nil {
			return err
		}
		id = storage.UserID(next)
		if err := putRecord(txn, keyUser(id), userRecord{Name: user, Hash: hash}); err != nil {
			return err
		}
		return txn.Set(keyUserName(user), encodeID(next))
	})
	return id, err
}

func (s *BadgerStore) UpdateUserPassword(ctx context.Context, user storage.UserID, password string) error {
	hash, err := storage.HashPassword(password)
	if err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		rec, err := loadUser(txn, user)
		if err != nil {
			return err
		}
		rec.Hash = hash
		return putRecord(txn, keyUser(user), rec)
	})
}

func (s *BadgerStore) RenameUser(ctx context.Context, user storage.UserID, newName string) error {
	if newName == "" {
		return storage.NewError(storage.ErrInvalidArgument, "username must not be empty")
	}
	return s.update(func(txn *badger.Txn) error {
		rec, err := loadUser(txn, user)
		if err != nil {
			return err
		}
		other, exists, err := getID(txn, keyUserName(newName))
		if err != nil {
			return err
		}
		if exists && storage.UserID(other) != user {
			return storage.NewError(storage.ErrAlreadyExists, "user %q already exists", newName)
		}
		if err := txn.Delete(keyUserName(rec.Name)); err != nil {
			return err
		}
		rec.Name = newName
		if err := putRecord(txn, keyUser(user), rec); err != nil {
			return err
		}
		return txn.Set(keyUserName(newName), encodeID(int64(user)))
	})
}

func (s *BadgerStore) ValidateUser(ctx context.Context, user, password string) (storage.UserID, error) {
	var (
		id   int64
		rec  userRecord
		seen bool
	)
	err := s.view(func(txn *badger.Txn) error {
		var err error
		id, seen, err = getID(txn, keyUserName(user))
		if err != nil || !seen {
			return err
		}
		rec, err = loadUser(txn, storage.UserID(id))
		return err
	})
	if err != nil {
		return 0, err
	}
	if !seen {
		storage.BurnPasswordCheck(password)
		return 0, storage.InvalidCredentials()
	}
	if !storage.CheckPassword(rec.Hash, password) {
		return 0, storage.InvalidCredentials()
	}
	return storage.UserID(id), nil
}

// DelUser deletes the backlog of every buffer first, then the remaining
// records in one transaction.
func (s *BadgerStore) DelUser(ctx context.Context, user storage.UserID) error {
	var (
		rec     userRecord
		buffers []bufferRecord
		msgKeys [][]byte
	)
	err := s.view(func(txn *badger.Txn) error {
		var err error
		if rec, err = loadUser(txn, user); err != nil {
			return err
		}
		if buffers, err = userBuffers(txn, user); err != nil {
			return err
		}
		for _, b := range buffers {
			msgKeys = append(msgKeys, collectKeys(txn, keyMessagePrefix(b.Info.BufferID))...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.deleteKeys(msgKeys); err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		var keys [][]byte
		keys = append(keys, collectKeys(txn, keySettingPrefix(user))...)
		keys = append(keys, collectKeys(txn, keyNetworkPrefix(user))...)
		keys = append(keys, collectKeys(txn, keyBufferPrefix(user))...)
		for _, b := range buffers {
			keys = append(keys, keyBufferName(b.Info.NetworkID, b.Info.Name))
		}
		keys = append(keys, keyUser(user), keyUserName(rec.Name))
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) SetUserSetting(ctx context.Context, user storage.UserID, name string, data any) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := loadUser(txn, user); err != nil {
			return err
		}
		return putRecord(txn, keySetting(user, name), data)
	})
}

func (s *BadgerStore) GetUserSetting(ctx context.Context, user storage.UserID, name string, def any) (any, error) {
	var (
		value any
		found bool
	)
	err := s.view(func(txn *badger.Txn) error {
		if _, err := loadUser(txn, user); err != nil {
			return err
		}
		var err error
		found, err = getRecord(txn, keySetting(user, name), &value)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return def, nil
	}
	return value, nil
}
