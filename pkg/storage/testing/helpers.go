package testing

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittochat/pkg/storage"
	"github.com/stretchr/testify/require"
)

// openStore returns a backend that has been set up and initialized. It is
// closed when the test ends.
func (suite *StoreTestSuite) openStore(test *testing.T) storage.Backend {
	test.Helper()
	ctx := context.Background()

	store, settings := suite.NewStore(test)
	require.NoError(test, store.Setup(ctx, settings))
	require.NoError(test, store.Init(ctx, settings))
	test.Cleanup(func() { _ = store.Close() })
	return store
}

// addUser creates an account or fails the test.
func addUser(test *testing.T, store storage.Backend, name string) storage.UserID {
	test.Helper()
	id, err := store.AddUser(context.Background(), name, name+"-secret")
	require.NoError(test, err)
	require.True(test, id.IsValid())
	return id
}

// SampleNetwork returns a fully populated network configuration.
func SampleNetwork(name string) storage.NetworkInfo {
	return storage.NetworkInfo{
		NetworkName: name,
		IdentityID:  1,
		ServerList: []storage.ServerEntry{
			{Host: "irc." + name + ".org", Port: 6697, UseSSL: true},
			{Host: "irc2." + name + ".org", Port: 6667},
		},
		Perform:               []string{"/msg nickserv identify"},
		CodecForServer:        "UTF-8",
		UseAutoReconnect:      true,
		AutoReconnectInterval: 60,
		AutoReconnectRetries:  20,
		RejoinChannels:        true,
	}
}

// addNetwork creates a network or fails the test.
func addNetwork(test *testing.T, store storage.Backend, user storage.UserID, name string) storage.NetworkID {
	test.Helper()
	id, err := store.CreateNetwork(context.Background(), user, SampleNetwork(name))
	require.NoError(test, err)
	require.True(test, id.IsValid())
	return id
}

// addBuffer creates a channel buffer or fails the test.
func addBuffer(test *testing.T, store storage.Backend, user storage.UserID, network storage.NetworkID, name string) storage.BufferInfo {
	test.Helper()
	info, err := store.BufferInfo(context.Background(), user, network, storage.ChannelBuffer, name)
	require.NoError(test, err)
	require.True(test, info.BufferID.IsValid())
	return info
}

// logMessages appends count plain messages one second apart starting at
// start and returns their ids in insertion order.
func logMessages(test *testing.T, store storage.Backend, user storage.UserID, buffer storage.BufferInfo, start time.Time, count int) []storage.MsgID {
	test.Helper()
	ids := make([]storage.MsgID, 0, count)
	for i := 0; i < count; i++ {
		id, err := store.LogMessage(context.Background(), user, storage.Message{
			Timestamp:  start.Add(time.Duration(i) * time.Second),
			BufferInfo: buffer,
			Type:       storage.PlainMessage,
			Sender:     "bob!bob@example.org",
			Contents:   "line",
		})
		require.NoError(test, err)
		ids = append(ids, id)
	}
	return ids
}

func msgIDs(msgs []storage.Message) []storage.MsgID {
	out := make([]storage.MsgID, len(msgs))
	for i, m := range msgs {
		out[i] = m.MsgID
	}
	return out
}
