package testing

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittochat/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunMessageTests(test *testing.T) {
	test.Run("LogMessage_RoundTrip", suite.TestLogMessage_RoundTrip)
	test.Run("LogMessage_UnknownBuffer", suite.TestLogMessage_UnknownBuffer)
	test.Run("RequestMsgs", suite.TestRequestMsgs)
	test.Run("RequestMsgsSince", suite.TestRequestMsgsSince)
	test.Run("RequestMsgRange", suite.TestRequestMsgRange)
	test.Run("RemoveBuffer_DropsBacklog", suite.TestRemoveBuffer_DropsBacklog)
}

func (suite *StoreTestSuite) TestLogMessage_RoundTrip(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	network := addNetwork(test, store, alice, "freenode")
	buffer := addBuffer(test, store, alice, network, "#go")

	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := store.LogMessage(ctx, alice, storage.Message{
		Timestamp:  stamp,
		BufferInfo: buffer,
		Type:       storage.ActionMessage,
		Flags:      storage.FlagSelf | storage.FlagHighlight,
		Sender:     "alice!a@example.org",
		Contents:   "waves",
	})
	require.NoError(test, err)
	require.True(test, id.IsValid())

	msgs, err := store.RequestMsgs(ctx, alice, buffer.BufferID, 10, 0)
	require.NoError(test, err)
	require.Len(test, msgs, 1)

	got := msgs[0]
	assert.Equal(test, id, got.MsgID)
	assert.Equal(test, stamp.Unix(), got.Timestamp.Unix())
	assert.Equal(test, buffer, got.BufferInfo)
	assert.Equal(test, storage.ActionMessage, got.Type)
	assert.Equal(test, storage.FlagSelf|storage.FlagHighlight, got.Flags)
	assert.Equal(test, "alice!a@example.org", got.Sender)
	assert.Equal(test, "waves", got.Contents)
}

func (suite *StoreTestSuite) TestLogMessage_UnknownBuffer(test *testing.T) {
	store := suite.openStore(test)
	alice := addUser(test, store, "alice")

	_, err := store.LogMessage(context.Background(), alice, storage.Message{
		Timestamp:  time.Now(),
		BufferInfo: storage.BufferInfo{BufferID: 999},
		Contents:   "lost",
	})
	assert.True(test, storage.IsNotFound(err), "got %v", err)
}

// TestRequestMsgs verifies newest-first ordering, limits and offsets.
func (suite *StoreTestSuite) TestRequestMsgs(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	network := addNetwork(test, store, alice, "freenode")
	buffer := addBuffer(test, store, alice, network, "#go")
	other := addBuffer(test, store, alice, network, "#rust")

	ids := logMessages(test, store, alice, buffer, time.Unix(1700000000, 0), 5)
	logMessages(test, store, alice, other, time.Unix(1700000000, 0), 3)

	tests := []struct {
		name   string
		last   int
		offset storage.MsgID
		want   []storage.MsgID
	}{
		{"all", 0, 0, []storage.MsgID{ids[4], ids[3], ids[2], ids[1], ids[0]}},
		{"limited", 2, 0, []storage.MsgID{ids[4], ids[3]}},
		{"offset", 2, ids[3], []storage.MsgID{ids[2], ids[1]}},
		{"offset_past_start", 10, ids[0], []storage.MsgID{}},
	}
	for _, tt := range tests {
		test.Run(tt.name, func(t *testing.T) {
			msgs, err := store.RequestMsgs(ctx, alice, buffer.BufferID, tt.last, tt.offset)
			require.NoError(t, err)
			assert.Equal(t, tt.want, msgIDs(msgs))
		})
	}
}

func (suite *StoreTestSuite) TestRequestMsgsSince(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	network := addNetwork(test, store, alice, "freenode")
	buffer := addBuffer(test, store, alice, network, "#go")

	start := time.Unix(1700000000, 0)
	ids := logMessages(test, store, alice, buffer, start, 5)

	msgs, err := store.RequestMsgsSince(ctx, alice, buffer.BufferID, start.Add(2*time.Second), 0)
	require.NoError(test, err)
	assert.Equal(test, []storage.MsgID{ids[4], ids[3], ids[2]}, msgIDs(msgs))

	msgs, err = store.RequestMsgsSince(ctx, alice, buffer.BufferID, start.Add(2*time.Second), ids[4])
	require.NoError(test, err)
	assert.Equal(test, []storage.MsgID{ids[3], ids[2]}, msgIDs(msgs))
}

func (suite *StoreTestSuite) TestRequestMsgRange(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	network := addNetwork(test, store, alice, "freenode")
	buffer := addBuffer(test, store, alice, network, "#go")

	ids := logMessages(test, store, alice, buffer, time.Unix(1700000000, 0), 5)

	msgs, err := store.RequestMsgRange(ctx, alice, buffer.BufferID, ids[1], ids[3])
	require.NoError(test, err)
	assert.Equal(test, []storage.MsgID{ids[3], ids[2], ids[1]}, msgIDs(msgs))

	msgs, err = store.RequestMsgRange(ctx, alice, buffer.BufferID, ids[3], 0)
	require.NoError(test, err)
	assert.Equal(test, []storage.MsgID{ids[4], ids[3]}, msgIDs(msgs))
}

func (suite *StoreTestSuite) TestRemoveBuffer_DropsBacklog(test *testing.T) {
	store := suite.openStore(test)
	ctx := context.Background()
	alice := addUser(test, store, "alice")
	network := addNetwork(test, store, alice, "freenode")
	buffer := addBuffer(test, store, alice, network, "#go")
	logMessages(test, store, alice, buffer, time.Unix(1700000000, 0), 3)

	require.NoError(test, store.RemoveBuffer(ctx, alice, buffer.BufferID))

	// Recreating the buffer yields a fresh, empty backlog.
	again := addBuffer(test, store, alice, network, "#go")
	msgs, err := store.RequestMsgs(ctx, alice, again.BufferID, 0, 0)
	require.NoError(test, err)
	assert.Empty(test, msgs)
}
