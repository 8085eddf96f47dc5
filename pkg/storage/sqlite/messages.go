package sqlite

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/marmos91/dittochat/pkg/storage"
)

func (s *SQLiteStore) LogMessage(ctx context.Context, user storage.UserID, msg storage.Message) (storage.MsgID, error) {
	var id storage.MsgID
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getBuffer(ctx, tx, user, msg.BufferInfo.BufferID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO backlog (buffer_id, time, type, flags, sender, contents)
			VALUES (?, ?, ?, ?, ?, ?)`,
			msg.BufferInfo.BufferID, msg.Timestamp.UnixMilli(), msg.Type, msg.Flags, msg.Sender, msg.Contents)
		if err != nil {
			return storage.WrapIO(err, "insert message")
		}
		last, err := res.LastInsertId()
		if err != nil {
			return storage.WrapIO(err, "read message id")
		}
		id = storage.MsgID(last)
		return nil
	})
	return id, err
}

// queryBacklog runs a backlog query whose first placeholders are filled by
// args and decorates every row with the buffer's current info.
func (s *SQLiteStore) queryBacklog(ctx context.Context, user storage.UserID, buffer storage.BufferID, where string, limit int, args ...any) ([]storage.Message, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	info, err := getBuffer(ctx, db, user, buffer)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, time, type, flags, sender, contents FROM backlog
		WHERE buffer_id = ? AND ` + where + ` ORDER BY id DESC LIMIT ?`
	params := append([]any{buffer}, args...)
	params = append(params, limit)

	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, storage.WrapIO(err, "query backlog")
	}
	defer rows.Close()

	out := make([]storage.Message, 0)
	for rows.Next() {
		var (
			msg    storage.Message
			millis int64
		)
		if err := rows.Scan(&msg.MsgID, &millis, &msg.Type, &msg.Flags, &msg.Sender, &msg.Contents); err != nil {
			return nil, storage.WrapIO(err, "scan message")
		}
		msg.Timestamp = time.UnixMilli(millis)
		msg.BufferInfo = info
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.WrapIO(err, "query backlog")
	}
	return out, nil
}

// upperBound maps an invalid offset to "no bound".
func upperBound(offset storage.MsgID) int64 {
	if offset.IsValid() {
		return int64(offset)
	}
	return math.MaxInt64
}

func (s *SQLiteStore) RequestMsgs(ctx context.Context, user storage.UserID, buffer storage.BufferID, last int, offset storage.MsgID) ([]storage.Message, error) {
	return s.queryBacklog(ctx, user, buffer, `id < ?`, last, upperBound(offset))
}

func (s *SQLiteStore) RequestMsgsSince(ctx context.Context, user storage.UserID, buffer storage.BufferID, since time.Time, offset storage.MsgID) ([]storage.Message, error) {
	return s.queryBacklog(ctx, user, buffer, `id < ? AND time >= ?`, 0, upperBound(offset), since.UnixMilli())
}

func (s *SQLiteStore) RequestMsgRange(ctx context.Context, user storage.UserID, buffer storage.BufferID, first, last storage.MsgID) ([]storage.Message, error) {
	upper := int64(math.MaxInt64)
	if last.IsValid() {
		upper = int64(last)
	}
	return s.queryBacklog(ctx, user, buffer, `id >= ? AND id <= ?`, 0, int64(first), upper)
}
