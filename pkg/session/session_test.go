package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittochat/internal/protocol/frame"
	"github.com/marmos91/dittochat/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	networks  []storage.NetworkInfo
	connected []storage.NetworkID
	buffers   []storage.BufferInfo
	err       error
}

func (f *fakeStore) Networks(ctx context.Context, user storage.UserID) ([]storage.NetworkInfo, error) {
	return f.networks, f.err
}

func (f *fakeStore) ConnectedNetworks(ctx context.Context, user storage.UserID) ([]storage.NetworkID, error) {
	return f.connected, nil
}

func (f *fakeStore) RequestBuffers(ctx context.Context, user storage.UserID) ([]storage.BufferInfo, error) {
	return f.buffers, nil
}

type recordingConnector struct {
	mu        sync.Mutex
	connected []string
}

func (r *recordingConnector) Connect(ctx context.Context, user storage.UserID, network storage.NetworkInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, network.NetworkName)
	return nil
}

func (r *recordingConnector) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.connected...)
}

type chanHandler chan frame.Message

func (h chanHandler) HandleClientMessage(ctx context.Context, s *Session, c *Client, msg frame.Message) {
	h <- msg
}

func sampleStore() *fakeStore {
	return &fakeStore{
		networks: []storage.NetworkInfo{
			{NetworkID: 1, NetworkName: "libera"},
			{NetworkID: 2, NetworkName: "oftc"},
		},
		connected: []storage.NetworkID{2, 99},
		buffers: []storage.BufferInfo{
			{BufferID: 10, NetworkID: 1, Type: storage.ChannelBuffer, Name: "#go"},
		},
	}
}

func startSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	if cfg.User == 0 {
		cfg.User = 7
	}
	s := New(cfg)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

// attach hands one end of a pipe to s and returns the peer end after the
// SessionInit message has been read.
func attach(t *testing.T, s *Session) (*frame.Conn, frame.Message) {
	t.Helper()
	server, client := net.Pipe()
	peer := frame.NewConn(client, 0)
	t.Cleanup(func() { _ = peer.Close() })

	errc := make(chan error, 1)
	go func() { errc <- s.AddClient(context.Background(), frame.NewConn(server, 0)) }()

	init, err := peer.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, <-errc)
	return peer, init
}

func TestAddClientSendsSessionInit(t *testing.T) {
	s := startSession(t, Config{Store: sampleStore()})

	_, init := attach(t, s)
	assert.Equal(t, MsgSessionInit, init.Type())

	state := init.Map(FieldSessionState)
	require.NotNil(t, state)
	networks, ok := state[FieldNetworks].([]any)
	require.True(t, ok)
	require.Len(t, networks, 2)
	first := frame.Message(networks[0].(map[string]any))
	assert.Equal(t, int64(1), first.Int("NetworkId"))
	assert.Equal(t, "libera", first.String("NetworkName"))

	buffers, ok := state[FieldBufferInfos].([]any)
	require.True(t, ok)
	require.Len(t, buffers, 1)
	buffer := frame.Message(buffers[0].(map[string]any))
	assert.Equal(t, "#go", buffer.String("Name"))
	assert.Equal(t, int64(storage.ChannelBuffer), buffer.Int("Type"))

	assert.Equal(t, 1, s.ClientCount())
}

func TestMultipleClients(t *testing.T) {
	s := startSession(t, Config{Store: sampleStore()})

	attach(t, s)
	attach(t, s)
	assert.Equal(t, 2, s.ClientCount())
}

func TestHeartBeat(t *testing.T) {
	s := startSession(t, Config{Store: sampleStore()})
	peer, _ := attach(t, s)

	require.NoError(t, peer.WriteMessage(frame.Message{frame.MsgTypeKey: MsgHeartBeat, FieldTimestamp: "12:00:00"}))
	reply, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, MsgHeartBeatReply, reply.Type())
	assert.Equal(t, "12:00:00", reply.String(FieldTimestamp))
}

func TestMessagesReachHandlerInOrder(t *testing.T) {
	handler := make(chanHandler, 8)
	s := startSession(t, Config{Store: sampleStore(), Handler: handler})
	peer, _ := attach(t, s)

	for _, kind := range []string{"SyncRequest", "Input", "Input"} {
		require.NoError(t, peer.WriteMessage(frame.Message{frame.MsgTypeKey: kind}))
	}

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case msg := <-handler:
			got = append(got, msg.Type())
		case <-time.After(time.Second):
			t.Fatal("handler did not receive message")
		}
	}
	assert.Equal(t, []string{"SyncRequest", "Input", "Input"}, got)
}

func TestClientDisconnectDetaches(t *testing.T) {
	s := startSession(t, Config{Store: sampleStore()})
	peer, _ := attach(t, s)

	require.NoError(t, peer.Close())
	assert.Eventually(t, func() bool { return s.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRestoreReconnectsNetworks(t *testing.T) {
	connector := &recordingConnector{}
	s := startSession(t, Config{Store: sampleStore(), Restore: true, Connector: connector})
	require.NoError(t, s.Ready(context.Background()))

	assert.Eventually(t, func() bool { return len(connector.names()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"oftc"}, connector.names())
}

func TestNoRestoreWithoutFlag(t *testing.T) {
	connector := &recordingConnector{}
	s := startSession(t, Config{Store: sampleStore(), Connector: connector})
	attach(t, s)

	assert.Empty(t, connector.names())
}

func TestFailedInitialization(t *testing.T) {
	store := sampleStore()
	store.err = errors.New("database locked")
	s := startSession(t, Config{Store: store})

	err := s.Ready(context.Background())
	require.Error(t, err)
	assert.True(t, s.Failed())

	server, client := net.Pipe()
	peer := frame.NewConn(client, 0)
	defer peer.Close()

	err = s.AddClient(context.Background(), frame.NewConn(server, 0))
	assert.ErrorIs(t, err, ErrFailed)

	_, err = peer.ReadMessage()
	assert.Error(t, err)
}

func TestStopClosesClients(t *testing.T) {
	s := New(Config{User: 7, Store: sampleStore()})
	s.Start(context.Background())
	peer, _ := attach(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	_, err := peer.ReadMessage()
	assert.Error(t, err)

	server, _ := net.Pipe()
	assert.ErrorIs(t, s.AddClient(context.Background(), frame.NewConn(server, 0)), ErrStopped)
}

func TestStopBeforeStart(t *testing.T) {
	s := New(Config{User: 7, Store: sampleStore()})
	assert.NoError(t, s.Stop(context.Background()))
}
