package badger

import (
	"context"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittochat/pkg/storage"
)

type messageRecord struct {
	ID       storage.MsgID
	UnixNano int64
	Type     storage.MessageType
	Flags    storage.MessageFlags
	Sender   string
	Contents string
}

func (r messageRecord) toMessage(info storage.BufferInfo) storage.Message {
	return storage.Message{
		MsgID:      r.ID,
		Timestamp:  time.Unix(0, r.UnixNano),
		BufferInfo: info,
		Type:       r.Type,
		Flags:      r.Flags,
		Sender:     r.Sender,
		Contents:   r.Contents,
	}
}

func (s *BadgerStore) LogMessage(ctx context.Context, user storage.UserID, msg storage.Message) (storage.MsgID, error) {
	var id storage.MsgID
	err := s.update(func(txn *badger.Txn) error {
		rec, err := loadBuffer(txn, user, msg.BufferInfo.BufferID)
		if err != nil {
			return err
		}
		next, err := nextID(txn, "message")
		if err != nil {
			return err
		}
		id = storage.MsgID(next)
		return putRecord(txn, keyMessage(rec.Info.BufferID, id), messageRecord{
			ID:       id,
			UnixNano: msg.Timestamp.UnixNano(),
			Type:     msg.Type,
			Flags:    msg.Flags,
			Sender:   msg.Sender,
			Contents: msg.Contents,
		})
	})
	return id, err
}

// scanBacklog walks a buffer's backlog newest first, keeping messages
// accepted by keep until limit is reached. A limit <= 0 means no limit.
func (s *BadgerStore) scanBacklog(user storage.UserID, buffer storage.BufferID, limit int, keep func(messageRecord) bool) ([]storage.Message, error) {
	out := make([]storage.Message, 0)
	err := s.view(func(txn *badger.Txn) error {
		buf, err := loadBuffer(txn, user, buffer)
		if err != nil {
			return err
		}
		return scanPrefix(txn, keyMessagePrefix(buffer), true, func(_, val []byte) (bool, error) {
			var rec messageRecord
			if err := storage.DecodeValue(val, &rec); err != nil {
				return false, err
			}
			if keep(rec) {
				out = append(out, rec.toMessage(buf.Info))
			}
			return limit <= 0 || len(out) < limit, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) RequestMsgs(ctx context.Context, user storage.UserID, buffer storage.BufferID, last int, offset storage.MsgID) ([]storage.Message, error) {
	return s.scanBacklog(user, buffer, last, func(r messageRecord) bool {
		return !offset.IsValid() || r.ID < offset
	})
}

func (s *BadgerStore) RequestMsgsSince(ctx context.Context, user storage.UserID, buffer storage.BufferID, since time.Time, offset storage.MsgID) ([]storage.Message, error) {
	sinceNano := since.UnixNano()
	return s.scanBacklog(user, buffer, 0, func(r messageRecord) bool {
		if offset.IsValid() && r.ID >= offset {
			return false
		}
		return r.UnixNano >= sinceNano
	})
}

func (s *BadgerStore) RequestMsgRange(ctx context.Context, user storage.UserID, buffer storage.BufferID, first, last storage.MsgID) ([]storage.Message, error) {
	return s.scanBacklog(user, buffer, 0, func(r messageRecord) bool {
		if r.ID < first {
			return false
		}
		return !last.IsValid() || r.ID <= last
	})
}
