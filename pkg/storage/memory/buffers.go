package memory

import (
	"context"
	"sort"

	"github.com/marmos91/dittochat/pkg/storage"
)

// findBuffer must be called with mu held.
func (s *MemoryStore) findBuffer(user storage.UserID, network storage.NetworkID, name string) *bufferData {
	norm := storage.NormalizeBufferName(name)
	for _, b := range s.buffers {
		if b.owner == user && b.info.NetworkID == network && storage.NormalizeBufferName(b.info.Name) == norm {
			return b
		}
	}
	return nil
}

func (s *MemoryStore) BufferInfo(ctx context.Context, user storage.UserID, network storage.NetworkID, bufType storage.BufferType, name string) (storage.BufferInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedNetwork(user, network); err != nil {
		return storage.BufferInfo{}, err
	}
	if b := s.findBuffer(user, network, name); b != nil {
		return b.info, nil
	}

	s.nextBuffer++
	info := storage.BufferInfo{
		BufferID:  s.nextBuffer,
		NetworkID: network,
		Type:      bufType,
		Name:      name,
	}
	s.buffers[info.BufferID] = &bufferData{owner: user, info: info}
	return info, nil
}

func (s *MemoryStore) GetBufferInfo(ctx context.Context, user storage.UserID, buffer storage.BufferID) (storage.BufferInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.ownedBuffer(user, buffer)
	if err != nil {
		return storage.BufferInfo{}, err
	}
	return b.info, nil
}

func (s *MemoryStore) RequestBuffers(ctx context.Context, user storage.UserID) ([]storage.BufferInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedUser(user); err != nil {
		return nil, err
	}
	out := make([]storage.BufferInfo, 0)
	for _, b := range s.buffers {
		if b.owner == user {
			out = append(out, b.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BufferID < out[j].BufferID })
	return out, nil
}

func (s *MemoryStore) RequestBufferIDsForNetwork(ctx context.Context, user storage.UserID, network storage.NetworkID) ([]storage.BufferID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedNetwork(user, network); err != nil {
		return nil, err
	}
	out := make([]storage.BufferID, 0)
	for id, b := range s.buffers {
		if b.info.NetworkID == network {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) RemoveBuffer(ctx context.Context, user storage.UserID, buffer storage.BufferID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedBuffer(user, buffer); err != nil {
		return err
	}
	delete(s.buffers, buffer)
	delete(s.messages, buffer)
	return nil
}

func (s *MemoryStore) RenameBuffer(ctx context.Context, user storage.UserID, network storage.NetworkID, newName, oldName string) (storage.BufferID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedNetwork(user, network); err != nil {
		return 0, err
	}
	b := s.findBuffer(user, network, oldName)
	if b == nil {
		return 0, storage.NewError(storage.ErrNotFound, "buffer %q not found", oldName)
	}
	if other := s.findBuffer(user, network, newName); other != nil && other != b {
		return 0, storage.NewError(storage.ErrAlreadyExists, "buffer %q already exists", newName)
	}
	b.info.Name = newName
	return b.info.BufferID, nil
}

func (s *MemoryStore) SetBufferLastSeenMsg(ctx context.Context, user storage.UserID, buffer storage.BufferID, msg storage.MsgID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.ownedBuffer(user, buffer)
	if err != nil {
		return err
	}
	b.lastSeen = msg
	return nil
}

func (s *MemoryStore) BufferLastSeenMsgIDs(ctx context.Context, user storage.UserID) (map[storage.BufferID]storage.MsgID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedUser(user); err != nil {
		return nil, err
	}
	out := make(map[storage.BufferID]storage.MsgID)
	for id, b := range s.buffers {
		if b.owner == user && b.lastSeen.IsValid() {
			out[id] = b.lastSeen
		}
	}
	return out, nil
}
