package badger

import (
	"context"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittochat/pkg/storage"
)

type bufferRecord struct {
	Info     storage.BufferInfo
	LastSeen storage.MsgID
}

func loadBuffer(txn *badger.Txn, user storage.UserID, buffer storage.BufferID) (bufferRecord, error) {
	var rec bufferRecord
	found, err := getRecord(txn, keyBuffer(user, buffer), &rec)
	if err != nil {
		return rec, err
	}
	if !found {
		return rec, storage.NewError(storage.ErrNotFound, "buffer %d not found", buffer)
	}
	return rec, nil
}

func userBuffers(txn *badger.Txn, user storage.UserID) ([]bufferRecord, error) {
	var out []bufferRecord
	err := scanPrefix(txn, keyBufferPrefix(user), false, func(_, val []byte) (bool, error) {
		var rec bufferRecord
		if err := storage.DecodeValue(val, &rec); err != nil {
			return false, err
		}
		out = append(out, rec)
		return true, nil
	})
	return out, err
}

// findBuffer resolves a case-insensitive name through the name index.
func findBuffer(txn *badger.Txn, user storage.UserID, network storage.NetworkID, name string) (bufferRecord, bool, error) {
	id, found, err := getID(txn, keyBufferName(network, name))
	if err != nil || !found {
		return bufferRecord{}, false, err
	}
	rec, err := loadBuffer(txn, user, storage.BufferID(id))
	if err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

func (s *BadgerStore) BufferInfo(ctx context.Context, user storage.UserID, network storage.NetworkID, bufType storage.BufferType, name string) (storage.BufferInfo, error) {
	var info storage.BufferInfo
	err := s.update(func(txn *badger.Txn) error {
		if _, err := loadNetwork(txn, user, network); err != nil {
			return err
		}
		existing, found, err := findBuffer(txn, user, network, name)
		if err != nil {
			return err
		}
		if found {
			info = existing.Info
			return nil
		}

		next, err := nextID(txn, "buffer")
		if err != nil {
			return err
		}
		info = storage.BufferInfo{
			BufferID:  storage.BufferID(next),
			NetworkID: network,
			Type:      bufType,
			Name:      name,
		}
		if err := putRecord(txn, keyBuffer(user, info.BufferID), bufferRecord{Info: info}); err != nil {
			return err
		}
		return txn.Set(keyBufferName(network, name), encodeID(next))
	})
	return info, err
}

func (s *BadgerStore) GetBufferInfo(ctx context.Context, user storage.UserID, buffer storage.BufferID) (storage.BufferInfo, error) {
	var info storage.BufferInfo
	err := s.view(func(txn *badger.Txn) error {
		rec, err := loadBuffer(txn, user, buffer)
		info = rec.Info
		return err
	})
	return info, err
}

func (s *BadgerStore) RequestBuffers(ctx context.Context, user storage.UserID) ([]storage.BufferInfo, error) {
	out := make([]storage.BufferInfo, 0)
	err := s.view(func(txn *badger.Txn) error {
		if _, err := loadUser(txn, user); err != nil {
			return err
		}
		buffers, err := userBuffers(txn, user)
		for _, b := range buffers {
			out = append(out, b.Info)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) RequestBufferIDsForNetwork(ctx context.Context, user storage.UserID, network storage.NetworkID) ([]storage.BufferID, error) {
	out := make([]storage.BufferID, 0)
	err := s.view(func(txn *badger.Txn) error {
		if _, err := loadNetwork(txn, user, network); err != nil {
			return err
		}
		buffers, err := userBuffers(txn, user)
		for _, b := range buffers {
			if b.Info.NetworkID == network {
				out = append(out, b.Info.BufferID)
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) RemoveBuffer(ctx context.Context, user storage.UserID, buffer storage.BufferID) error {
	var (
		rec     bufferRecord
		msgKeys [][]byte
	)
	err := s.view(func(txn *badger.Txn) error {
		var err error
		if rec, err = loadBuffer(txn, user, buffer); err != nil {
			return err
		}
		msgKeys = collectKeys(txn, keyMessagePrefix(buffer))
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.deleteKeys(msgKeys); err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		if err := txn.Delete(keyBufferName(rec.Info.NetworkID, rec.Info.Name)); err != nil {
			return err
		}
		return txn.Delete(keyBuffer(user, buffer))
	})
}

func (s *BadgerStore) RenameBuffer(ctx context.Context, user storage.UserID, network storage.NetworkID, newName, oldName string) (storage.BufferID, error) {
	var id storage.BufferID
	err := s.update(func(txn *badger.Txn) error {
		if _, err := loadNetwork(txn, user, network); err != nil {
			return err
		}
		rec, found, err := findBuffer(txn, user, network, oldName)
		if err != nil {
			return err
		}
		if !found {
			return storage.NewError(storage.ErrNotFound, "buffer %q not found", oldName)
		}
		other, found, err := findBuffer(txn, user, network, newName)
		if err != nil {
			return err
		}
		if found && other.Info.BufferID != rec.Info.BufferID {
			return storage.NewError(storage.ErrAlreadyExists, "buffer %q already exists", newName)
		}

		if err := txn.Delete(keyBufferName(network, rec.Info.Name)); err != nil {
			return err
		}
		rec.Info.Name = newName
		if err := putRecord(txn, keyBuffer(user, rec.Info.BufferID), rec); err != nil {
			return err
		}
		id = rec.Info.BufferID
		return txn.Set(keyBufferName(network, newName), encodeID(int64(id)))
	})
	return id, err
}

func (s *BadgerStore) SetBufferLastSeenMsg(ctx context.Context, user storage.UserID, buffer storage.BufferID, msg storage.MsgID) error {
	return s.update(func(txn *badger.Txn) error {
		rec, err := loadBuffer(txn, user, buffer)
		if err != nil {
			return err
		}
		rec.LastSeen = msg
		return putRecord(txn, keyBuffer(user, buffer), rec)
	})
}

func (s *BadgerStore) BufferLastSeenMsgIDs(ctx context.Context, user storage.UserID) (map[storage.BufferID]storage.MsgID, error) {
	out := make(map[storage.BufferID]storage.MsgID)
	err := s.view(func(txn *badger.Txn) error {
		if _, err := loadUser(txn, user); err != nil {
			return err
		}
		buffers, err := userBuffers(txn, user)
		for _, b := range buffers {
			if b.LastSeen.IsValid() {
				out[b.Info.BufferID] = b.LastSeen
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
