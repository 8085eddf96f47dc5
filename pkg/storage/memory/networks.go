package memory

import (
	"context"
	"sort"

	"github.com/marmos91/dittochat/pkg/storage"
)

func (s *MemoryStore) networkNameTaken(user storage.UserID, name string, except storage.NetworkID) bool {
	for id, n := range s.networks {
		if n.owner == user && id != except && n.info.NetworkName == name {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateNetwork(ctx context.Context, user storage.UserID, info storage.NetworkInfo) (storage.NetworkID, error) {
	if info.NetworkName == "" {
		return 0, storage.NewError(storage.ErrInvalidArgument, "network name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedUser(user); err != nil {
		return 0, err
	}
	if s.networkNameTaken(user, info.NetworkName, 0) {
		return 0, storage.NewError(storage.ErrAlreadyExists, "network %q already exists", info.NetworkName)
	}

	s.nextNetwork++
	id := s.nextNetwork
	stored := info.Clone()
	stored.NetworkID = id
	s.networks[id] = &networkData{owner: user, info: stored, channels: make(map[string]channelData)}
	return id, nil
}

func (s *MemoryStore) UpdateNetwork(ctx context.Context, user storage.UserID, info storage.NetworkInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.ownedNetwork(user, info.NetworkID)
	if err != nil {
		return err
	}
	if info.NetworkName == "" {
		return storage.NewError(storage.ErrInvalidArgument, "network name must not be empty")
	}
	if s.networkNameTaken(user, info.NetworkName, info.NetworkID) {
		return storage.NewError(storage.ErrAlreadyExists, "network %q already exists", info.NetworkName)
	}
	n.info = info.Clone()
	return nil
}

func (s *MemoryStore) RemoveNetwork(ctx context.Context, user storage.UserID, network storage.NetworkID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedNetwork(user, network); err != nil {
		return err
	}
	for id, b := range s.buffers {
		if b.info.NetworkID == network {
			delete(s.buffers, id)
			delete(s.messages, id)
		}
	}
	delete(s.networks, network)
	return nil
}

func (s *MemoryStore) Networks(ctx context.Context, user storage.UserID) ([]storage.NetworkInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedUser(user); err != nil {
		return nil, err
	}
	out := make([]storage.NetworkInfo, 0)
	for _, n := range s.networks {
		if n.owner == user {
			out = append(out, n.info.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NetworkID < out[j].NetworkID })
	return out, nil
}

func (s *MemoryStore) NetworkID(ctx context.Context, user storage.UserID, name string) (storage.NetworkID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return 0, err
	}
	for id, n := range s.networks {
		if n.owner == user && n.info.NetworkName == name {
			return id, nil
		}
	}
	return 0, storage.NewError(storage.ErrNotFound, "network %q not found", name)
}

func (s *MemoryStore) ConnectedNetworks(ctx context.Context, user storage.UserID) ([]storage.NetworkID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedUser(user); err != nil {
		return nil, err
	}
	out := make([]storage.NetworkID, 0)
	for id, n := range s.networks {
		if n.owner == user && n.connected {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) SetNetworkConnected(ctx context.Context, user storage.UserID, network storage.NetworkID, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.ownedNetwork(user, network)
	if err != nil {
		return err
	}
	n.connected = connected
	return nil
}

func (s *MemoryStore) PersistentChannels(ctx context.Context, user storage.UserID, network storage.NetworkID) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.ownedNetwork(user, network)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(n.channels))
	for _, ch := range n.channels {
		out[ch.name] = ch.key
	}
	return out, nil
}

func (s *MemoryStore) SetChannelPersistent(ctx context.Context, user storage.UserID, network storage.NetworkID, channel string, joined bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.ownedNetwork(user, network)
	if err != nil {
		return err
	}
	key := storage.NormalizeBufferName(channel)
	if !joined {
		delete(n.channels, key)
		return nil
	}
	if _, ok := n.channels[key]; !ok {
		n.channels[key] = channelData{name: channel}
	}
	return nil
}

// SetPersistentChannelKey only updates channels that are currently persistent.
func (s *MemoryStore) SetPersistentChannelKey(ctx context.Context, user storage.UserID, network storage.NetworkID, channel, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.ownedNetwork(user, network)
	if err != nil {
		return err
	}
	norm := storage.NormalizeBufferName(channel)
	if ch, ok := n.channels[norm]; ok {
		ch.key = key
		n.channels[norm] = ch
	}
	return nil
}
