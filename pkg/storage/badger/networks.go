package badger

import (
	"context"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittochat/pkg/storage"
)

type channelRecord struct {
	Name string
	Key  string
}

type networkRecord struct {
	Owner     storage.UserID
	Info      storage.NetworkInfo
	Connected bool

	// Channels is keyed by the normalized channel name
	Channels map[string]channelRecord
}

func loadNetwork(txn *badger.Txn, user storage.UserID, network storage.NetworkID) (networkRecord, error) {
	var rec networkRecord
	found, err := getRecord(txn, keyNetwork(user, network), &rec)
	if err != nil {
		return rec, err
	}
	if !found {
		return rec, storage.NewError(storage.ErrNotFound, "network %d not found", network)
	}
	if rec.Channels == nil {
		rec.Channels = make(map[string]channelRecord)
	}
	return rec, nil
}

func userNetworks(txn *badger.Txn, user storage.UserID) ([]networkRecord, error) {
	var out []networkRecord
	err := scanPrefix(txn, keyNetworkPrefix(user), false, func(_, val []byte) (bool, error) {
		var rec networkRecord
		if err := storage.DecodeValue(val, &rec); err != nil {
			return false, err
		}
		out = append(out, rec)
		return true, nil
	})
	return out, err
}

func networkNameTaken(txn *badger.Txn, user storage.UserID, name string, except storage.NetworkID) (bool, error) {
	networks, err := userNetworks(txn, user)
	if err != nil {
		return false, err
	}
	for _, n := range networks {
		if n.Info.NetworkID != except && n.Info.NetworkName == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *BadgerStore) CreateNetwork(ctx context.Context, user storage.UserID, info storage.NetworkInfo) (storage.NetworkID, error) {
	if info.NetworkName == "" {
		return 0, storage.NewError(storage.ErrInvalidArgument, "network name must not be empty")
	}

	var id storage.NetworkID
	err := s.update(func(txn *badger.Txn) error {
		if _, err := loadUser(txn, user); err != nil {
			return err
		}
		taken, err := networkNameTaken(txn, user, info.NetworkName, 0)
		if err != nil {
			return err
		}
		if taken {
			return storage.NewError(storage.ErrAlreadyExists, "network %q already exists", info.NetworkName)
		}

		next, err := nextID(txn, "network")
		if err != nil {
			return err
		}
		id = storage.NetworkID(next)
		info.NetworkID = id
		return putRecord(txn, keyNetwork(user, id), networkRecord{
			Owner:    user,
			Info:     info,
			Channels: make(map[string]channelRecord),
		})
	})
	return id, err
}

func (s *BadgerStore) UpdateNetwork(ctx context.Context, user storage.UserID, info storage.NetworkInfo) error {
	return s.update(func(txn *badger.Txn) error {
		rec, err := loadNetwork(txn, user, info.NetworkID)
		if err != nil {
			return err
		}
		if info.NetworkName == "" {
			return storage.NewError(storage.ErrInvalidArgument, "network name must not be empty")
		}
		taken, err := networkNameTaken(txn, user, info.NetworkName, info.NetworkID)
		if err != nil {
			return err
		}
		if taken {
			return storage.NewError(storage.ErrAlreadyExists, "network %q already exists", info.NetworkName)
		}
		rec.Info = info
		return putRecord(txn, keyNetwork(user, info.NetworkID), rec)
	})
}

func (s *BadgerStore) RemoveNetwork(ctx context.Context, user storage.UserID, network storage.NetworkID) error {
	var (
		buffers []bufferRecord
		msgKeys [][]byte
	)
	err := s.view(func(txn *badger.Txn) error {
		if _, err := loadNetwork(txn, user, network); err != nil {
			return err
		}
		all, err := userBuffers(txn, user)
		if err != nil {
			return err
		}
		for _, b := range all {
			if b.Info.NetworkID == network {
				buffers = append(buffers, b)
				msgKeys = append(msgKeys, collectKeys(txn, keyMessagePrefix(b.Info.BufferID))...)
			}
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
		for _, b := range buffers {
			if err := txn.Delete(keyBuffer(user, b.Info.BufferID)); err != nil {
				return err
			}
			if err := txn.Delete(keyBufferName(network, b.Info.Name)); err != nil {
				return err
			}
		}
		return txn.Delete(keyNetwork(user, network))
	})
}

func (s *BadgerStore) Networks(ctx context.Context, user storage.UserID) ([]storage.NetworkInfo, error) {
	out := make([]storage.NetworkInfo, 0)
	err := s.view(func(txn *badger.Txn) error {
		if _, err := loadUser(txn, user); err != nil {
			return err
		}
		networks, err := userNetworks(txn, user)
		if err != nil {
			return err
		}
		for _, n := range networks {
			out = append(out, n.Info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) NetworkID(ctx context.Context, user storage.UserID, name string) (storage.NetworkID, error) {
	var id storage.NetworkID
	err := s.view(func(txn *badger.Txn) error {
		networks, err := userNetworks(txn, user)
		if err != nil {
			return err
		}
		for _, n := range networks {
			if n.Info.NetworkName == name {
				id = n.Info.NetworkID
				return nil
			}
		}
		return storage.NewError(storage.ErrNotFound, "network %q not found", name)
	})
	return id, err
}

func (s *BadgerStore) ConnectedNetworks(ctx context.Context, user storage.UserID) ([]storage.NetworkID, error) {
	out := make([]storage.NetworkID, 0)
	err := s.view(func(txn *badger.Txn) error {
		if _, err := loadUser(txn, user); err != nil {
			return err
		}
		networks, err := userNetworks(txn, user)
		if err != nil {
			return err
		}
		for _, n := range networks {
			if n.Connected {
				out = append(out, n.Info.NetworkID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// modifyNetwork loads, mutates and stores one network record.
func (s *BadgerStore) modifyNetwork(user storage.UserID, network storage.NetworkID, fn func(rec *networkRecord)) error {
	return s.update(func(txn *badger.Txn) error {
		rec, err := loadNetwork(txn, user, network)
		if err != nil {
			return err
		}
		fn(&rec)
		return putRecord(txn, keyNetwork(user, network), rec)
	})
}

func (s *BadgerStore) SetNetworkConnected(ctx context.Context, user storage.UserID, network storage.NetworkID, connected bool) error {
	return s.modifyNetwork(user, network, func(rec *networkRecord) {
		rec.Connected = connected
	})
}

func (s *BadgerStore) PersistentChannels(ctx context.Context, user storage.UserID, network storage.NetworkID) (map[string]string, error) {
	out := make(map[string]string)
	err := s.view(func(txn *badger.Txn) error {
		rec, err := loadNetwork(txn, user, network)
		if err != nil {
			return err
		}
		for _, ch := range rec.Channels {
			out[ch.Name] = ch.Key
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) SetChannelPersistent(ctx context.Context, user storage.UserID, network storage.NetworkID, channel string, joined bool) error {
	norm := storage.NormalizeBufferName(channel)
	return s.modifyNetwork(user, network, func(rec *networkRecord) {
		if !joined {
			delete(rec.Channels, norm)
			return
		}
		if _, ok := rec.Channels[norm]; !ok {
			rec.Channels[norm] = channelRecord{Name: channel}
		}
	})
}

func (s *BadgerStore) SetPersistentChannelKey(ctx context.Context, user storage.UserID, network storage.NetworkID, channel, key string) error {
	norm := storage.NormalizeBufferName(channel)
	return s.modifyNetwork(user, network, func(rec *networkRecord) {
		if ch, ok := rec.Channels[norm]; ok {
			ch.Key = key
			rec.Channels[norm] = ch
		}
	})
}
