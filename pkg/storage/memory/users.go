package memory

import (
	"context"

	"github.com/marmos91/dittochat/pkg/storage"
)

func (s *MemoryStore) AddUser(ctx context.Context, user, password string) (storage.UserID, error) {
	if user == "" {
		return 0, storage.NewError(storage.ErrInvalidArgument, "username must not be empty")
	}
	hash, err := storage.HashPassword(password)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return 0, err
	}
	if _, exists := s.userByName[user]; exists {
		return 0, storage.NewError(storage.ErrAlreadyExists, "user %q already exists", user)
	}

	s.nextUser++
	id := s.nextUser
	s.users[id] = &userData{name: user, hash: hash, settings: make(map[string]any)}
	s.userByName[user] = id
	return id, nil
}

func (s *MemoryStore) UpdateUserPassword(ctx context.Context, user storage.UserID, password string) error {
	hash, err := storage.HashPassword(password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.ownedUser(user)
	if err != nil {
		return err
	}
	u.hash = hash
	return nil
}

func (s *MemoryStore) RenameUser(ctx context.Context, user storage.UserID, newName string) error {
	if newName == "" {
		return storage.NewError(storage.ErrInvalidArgument, "username must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.ownedUser(user)
	if err != nil {
		return err
	}
	if other, exists := s.userByName[newName]; exists && other != user {
		return storage.NewError(storage.ErrAlreadyExists, "user %q already exists", newName)
	}
	delete(s.userByName, u.name)
	u.name = newName
	s.userByName[newName] = user
	return nil
}

func (s *MemoryStore) ValidateUser(ctx context.Context, user, password string) (storage.UserID, error) {
	s.mu.Lock()
	if err := s.ready(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	id, ok := s.userByName[user]
	var hash string
	if ok {
		hash = s.users[id].hash
	}
	s.mu.Unlock()

	if !ok {
		storage.BurnPasswordCheck(password)
		return 0, storage.InvalidCredentials()
	}
	if !storage.CheckPassword(hash, password) {
		return 0, storage.InvalidCredentials()
	}
	return id, nil
}

func (s *MemoryStore) DelUser(ctx context.Context, user storage.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.ownedUser(user)
	if err != nil {
		return err
	}

	for id, b := range s.buffers {
		if b.owner == user {
			delete(s.buffers, id)
			delete(s.messages, id)
		}
	}
	for id, n := range s.networks {
		if n.owner == user {
			delete(s.networks, id)
		}
	}
	delete(s.userByName, u.name)
	delete(s.users, user)
	return nil
}

func (s *MemoryStore) SetUserSetting(ctx context.Context, user storage.UserID, name string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.ownedUser(user)
	if err != nil {
		return err
	}
	u.settings[name] = data
	return nil
}

func (s *MemoryStore) GetUserSetting(ctx context.Context, user storage.UserID, name string, def any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.ownedUser(user)
	if err != nil {
		return nil, err
	}
	if v, ok := u.settings[name]; ok {
		return v, nil
	}
	return def, nil
}
