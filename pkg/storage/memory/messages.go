package memory

import (
	"context"
	"time"

	"github.com/marmos91/dittochat/pkg/storage"
)

func (s *MemoryStore) LogMessage(ctx context.Context, user storage.UserID, msg storage.Message) (storage.MsgID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.ownedBuffer(user, msg.BufferInfo.BufferID)
	if err != nil {
		return 0, err
	}

	s.nextMsg++
	msg.MsgID = s.nextMsg
	msg.BufferInfo = b.info
	s.messages[b.info.BufferID] = append(s.messages[b.info.BufferID], msg)
	return msg.MsgID, nil
}

// collect walks the backlog newest first and keeps messages accepted by keep
// until limit is reached. A limit <= 0 means no limit.
func (s *MemoryStore) collect(buffer storage.BufferID, limit int, keep func(storage.Message) bool) []storage.Message {
	msgs := s.messages[buffer]
	out := make([]storage.Message, 0)
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if !keep(m) {
			continue
		}
		m.BufferInfo = s.buffers[buffer].info
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (s *MemoryStore) RequestMsgs(ctx context.Context, user storage.UserID, buffer storage.BufferID, last int, offset storage.MsgID) ([]storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedBuffer(user, buffer); err != nil {
		return nil, err
	}
	return s.collect(buffer, last, func(m storage.Message) bool {
		return !offset.IsValid() || m.MsgID < offset
	}), nil
}

func (s *MemoryStore) RequestMsgsSince(ctx context.Context, user storage.UserID, buffer storage.BufferID, since time.Time, offset storage.MsgID) ([]storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedBuffer(user, buffer); err != nil {
		return nil, err
	}
	return s.collect(buffer, 0, func(m storage.Message) bool {
		if offset.IsValid() && m.MsgID >= offset {
			return false
		}
		return !m.Timestamp.Before(since)
	}), nil
}

func (s *MemoryStore) RequestMsgRange(ctx context.Context, user storage.UserID, buffer storage.BufferID, first, last storage.MsgID) ([]storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedBuffer(user, buffer); err != nil {
		return nil, err
	}
	return s.collect(buffer, 0, func(m storage.Message) bool {
		if m.MsgID < first {
			return false
		}
		return !last.IsValid() || m.MsgID <= last
	}), nil
}
