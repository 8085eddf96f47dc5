package client

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittochat/internal/protocol/frame"
	"github.com/marmos91/dittochat/internal/protocol/handshake"
	"github.com/marmos91/dittochat/pkg/registry"
	"github.com/marmos91/dittochat/pkg/session"
	"github.com/marmos91/dittochat/pkg/storage"
	"github.com/marmos91/dittochat/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// testCore backs the handshake with a memory store that becomes usable once
// configured is true.
type testCore struct {
	mu         sync.Mutex
	configured bool
	store      *memory.MemoryStore
}

func newTestCore(t *testing.T, configured bool) *testCore {
	t.Helper()
	storage.PasswordCost = bcrypt.MinCost

	ctx := context.Background()
	store := memory.NewMemoryStore()
	opts := map[string]any{storage.BackendKey: memory.DisplayName}
	require.NoError(t, store.Setup(ctx, opts))
	require.NoError(t, store.Init(ctx, opts))
	_, err := store.AddUser(ctx, "alice", "wonderland")
	require.NoError(t, err)

	return &testCore{configured: configured, store: store}
}

func (c *testCore) Configured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configured
}

func (c *testCore) Backends() []storage.Descriptor {
	return []storage.Descriptor{{DisplayName: memory.DisplayName, Description: c.store.Description()}}
}

func (c *testCore) SetupCore(ctx context.Context, setupData map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configured = true
	return nil
}

func (c *testCore) ValidateUser(ctx context.Context, user, password string) (storage.UserID, error) {
	return c.store.ValidateUser(ctx, user, password)
}

type harness struct {
	adapter  *ClientAdapter
	registry *registry.Registry
	core     *testCore
}

func startAdapter(t *testing.T, core *testCore, cfg Config, info handshake.ServerInfo) *harness {
	t.Helper()

	cfg.BindAddress = "127.0.0.1"
	a := New(cfg, Options{
		Handshaker: handshake.NewHandshaker(core, info, nil),
		Configured: core.Configured,
	})
	a.config.Port = 0

	reg := registry.NewRegistry(context.Background(), registry.Config{Store: core.store, Configured: core.Configured})
	a.SetRegistry(reg)

	served := make(chan error, 1)
	go func() { served <- a.Serve(context.Background()) }()
	require.Eventually(t, a.Listening, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, a.Stop(ctx))
		assert.NoError(t, <-served)
		_ = reg.Shutdown(ctx)
	})

	return &harness{adapter: a, registry: reg, core: core}
}

func (h *harness) dial(t *testing.T) *frame.Conn {
	t.Helper()
	c, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", h.adapter.Port()))
	require.NoError(t, err)
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	conn := frame.NewConn(c, 0)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *frame.Conn, msg frame.Message) frame.Message {
	t.Helper()
	require.NoError(t, conn.WriteMessage(msg))
	reply, err := conn.ReadMessage()
	require.NoError(t, err)
	return reply
}

func clientInit(extra frame.Message) frame.Message {
	msg := frame.Message{
		frame.MsgTypeKey:               handshake.MsgClientInit,
		handshake.FieldProtocolVersion: handshake.ProtocolVersion,
	}
	for k, v := range extra {
		msg[k] = v
	}
	return msg
}

func login(password string) frame.Message {
	return frame.Message{
		frame.MsgTypeKey:        handshake.MsgClientLogin,
		handshake.FieldUser:     "alice",
		handshake.FieldPassword: password,
	}
}

func TestLoginHandsOffToSession(t *testing.T) {
	h := startAdapter(t, newTestCore(t, true), Config{}, handshake.ServerInfo{CoreVersion: "1.0"})
	conn := h.dial(t)

	ack := roundTrip(t, conn, clientInit(nil))
	require.Equal(t, handshake.MsgClientInitAck, ack.Type())
	assert.True(t, ack.Bool(handshake.FieldConfigured))

	reply := roundTrip(t, conn, login("wonderland"))
	require.Equal(t, handshake.MsgClientLoginAck, reply.Type())

	init, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, session.MsgSessionInit, init.Type())

	assert.Eventually(t, func() bool { return h.registry.Count() == 1 }, time.Second, 5*time.Millisecond)

	// The session owns the socket now and answers heartbeats.
	hb := roundTrip(t, conn, frame.Message{frame.MsgTypeKey: session.MsgHeartBeat, session.FieldTimestamp: "now"})
	assert.Equal(t, session.MsgHeartBeatReply, hb.Type())
}

func TestFailedLoginKeepsSocketOpen(t *testing.T) {
	h := startAdapter(t, newTestCore(t, true), Config{}, handshake.ServerInfo{})
	conn := h.dial(t)

	roundTrip(t, conn, clientInit(nil))

	reply := roundTrip(t, conn, login("wrong"))
	assert.Equal(t, handshake.MsgClientLoginReject, reply.Type())

	reply = roundTrip(t, conn, login("wonderland"))
	assert.Equal(t, handshake.MsgClientLoginAck, reply.Type())
}

func TestLoginBeforeInitClosesSocket(t *testing.T) {
	h := startAdapter(t, newTestCore(t, true), Config{}, handshake.ServerInfo{})
	conn := h.dial(t)

	reply := roundTrip(t, conn, login("wonderland"))
	assert.Equal(t, handshake.MsgClientLoginReject, reply.Type())

	_, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return h.registry.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestOldClientRejected(t *testing.T) {
	h := startAdapter(t, newTestCore(t, true), Config{}, handshake.ServerInfo{})
	conn := h.dial(t)

	reply := roundTrip(t, conn, clientInit(frame.Message{handshake.FieldProtocolVersion: 3}))
	assert.Equal(t, handshake.MsgClientInitReject, reply.Type())

	_, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestCompressionAfterAck(t *testing.T) {
	h := startAdapter(t, newTestCore(t, true), Config{}, handshake.ServerInfo{SupportsCompression: true})
	conn := h.dial(t)

	ack := roundTrip(t, conn, clientInit(frame.Message{handshake.FieldUseCompression: true}))
	require.Equal(t, handshake.MsgClientInitAck, ack.Type())
	assert.True(t, ack.Bool(handshake.FieldSupportsCompression))

	conn.SetCompression(true)
	reply := roundTrip(t, conn, login("wonderland"))
	assert.Equal(t, handshake.MsgClientLoginAck, reply.Type())
}

func TestHandshakeTimeout(t *testing.T) {
	h := startAdapter(t, newTestCore(t, true), Config{HandshakeTimeout: 100 * time.Millisecond}, handshake.ServerInfo{})
	conn := h.dial(t)

	start := time.Now()
	_, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

// TestUnconfiguredSingleClient verifies the listener closes while one client
// runs first-time setup and reopens once it leaves.
func TestUnconfiguredSingleClient(t *testing.T) {
	h := startAdapter(t, newTestCore(t, false), Config{}, handshake.ServerInfo{})
	port := h.adapter.Port()

	conn := h.dial(t)
	ack := roundTrip(t, conn, clientInit(nil))
	assert.False(t, ack.Bool(handshake.FieldConfigured))
	assert.False(t, h.adapter.Listening())

	require.NoError(t, conn.Close())
	assert.Eventually(t, h.adapter.Listening, time.Second, 5*time.Millisecond)
	assert.Equal(t, port, h.adapter.Port())
}

func TestSetupResumesListening(t *testing.T) {
	h := startAdapter(t, newTestCore(t, false), Config{}, handshake.ServerInfo{})
	conn := h.dial(t)

	roundTrip(t, conn, clientInit(nil))
	assert.False(t, h.adapter.Listening())

	reply := roundTrip(t, conn, frame.Message{
		frame.MsgTypeKey: handshake.MsgCoreSetupData,
		handshake.FieldSetupData: map[string]any{
			"AdminUser":   "root",
			"AdminPasswd": "secret",
			"Backend":     memory.DisplayName,
		},
	})
	assert.Equal(t, handshake.MsgCoreSetupAck, reply.Type())
	assert.Eventually(t, h.adapter.Listening, time.Second, 5*time.Millisecond)

	// The same socket may log in right away.
	reply = roundTrip(t, conn, login("wonderland"))
	assert.Equal(t, handshake.MsgClientLoginAck, reply.Type())
}

func TestAcceptRateLimit(t *testing.T) {
	h := startAdapter(t, newTestCore(t, true), Config{AcceptRate: 0.001, AcceptBurst: 1}, handshake.ServerInfo{})

	first := h.dial(t)
	ack := roundTrip(t, first, clientInit(nil))
	assert.Equal(t, handshake.MsgClientInitAck, ack.Type())

	second := h.dial(t)
	require.NoError(t, second.WriteMessage(clientInit(nil)))
	_, err := second.ReadMessage()
	assert.Error(t, err)
}

// TestPipelinedFramesReachSession sends init, login and a heartbeat in one
// write. Frames buffered behind the login must be read by the session.
func TestPipelinedFramesReachSession(t *testing.T) {
	h := startAdapter(t, newTestCore(t, true), Config{}, handshake.ServerInfo{})
	conn := h.dial(t)

	var wire []byte
	for _, msg := range []frame.Message{
		clientInit(nil),
		login("wonderland"),
		{frame.MsgTypeKey: session.MsgHeartBeat, session.FieldTimestamp: "now"},
	} {
		payload, err := frame.Encode(msg)
		require.NoError(t, err)
		wire = binary.BigEndian.AppendUint32(wire, uint32(len(payload)))
		wire = append(wire, payload...)
	}
	_, err := conn.NetConn().Write(wire)
	require.NoError(t, err)

	var got []string
	for i := 0; i < 4; i++ {
		msg, err := conn.ReadMessage()
		require.NoError(t, err, "reply %d", i)
		got = append(got, msg.Type())
	}
	assert.Equal(t, []string{
		handshake.MsgClientInitAck,
		handshake.MsgClientLoginAck,
		session.MsgSessionInit,
		session.MsgHeartBeatReply,
	}, got)
}

// TestConnectionSlotReleasedOnEveryExit runs with a single pending slot, so
// a slot leaked or freed twice on any exit path stalls the next client.
func TestConnectionSlotReleasedOnEveryExit(t *testing.T) {
	h := startAdapter(t, newTestCore(t, true), Config{MaxConnections: 1}, handshake.ServerInfo{})

	// Disconnect mid-handshake.
	gone := h.dial(t)
	ack := roundTrip(t, gone, clientInit(nil))
	require.Equal(t, handshake.MsgClientInitAck, ack.Type())
	require.NoError(t, gone.Close())

	// Rejected and closed by the core.
	rejected := h.dial(t)
	reply := roundTrip(t, rejected, login("wonderland"))
	require.Equal(t, handshake.MsgClientLoginReject, reply.Type())
	_, err := rejected.ReadMessage()
	require.Error(t, err)

	// Handed off to a session.
	authed := h.dial(t)
	roundTrip(t, authed, clientInit(nil))
	reply = roundTrip(t, authed, login("wonderland"))
	require.Equal(t, handshake.MsgClientLoginAck, reply.Type())
	init, err := authed.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, session.MsgSessionInit, init.Type())

	// The slot is free again.
	next := h.dial(t)
	ack = roundTrip(t, next, clientInit(nil))
	assert.Equal(t, handshake.MsgClientInitAck, ack.Type())
}

// TestReplyWriteFailureReleasesSlotOnce drives the acceptance goroutine's
// handlers directly over a pipe whose peer is already closed.
func TestReplyWriteFailureReleasesSlotOnce(t *testing.T) {
	core := newTestCore(t, true)
	a := New(Config{MaxConnections: 1}, Options{Handshaker: handshake.NewHandshaker(core, handshake.ServerInfo{}, nil)})

	// An open listener keeps removePending from rebinding.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	a.listener = l

	server, peer := net.Pipe()
	require.NoError(t, peer.Close())

	a.connSemaphore <- struct{}{}
	pc := &PendingConnection{
		ID:          "pipe",
		conn:        frame.NewConn(server, 0),
		raw:         server,
		machine:     a.handshaker.NewMachine("pipe"),
		connectedAt: time.Now(),
		verdict:     make(chan bool, 1),
	}
	a.pending[pc.ID] = pc

	a.handleMessage(pc, clientInit(nil))
	assert.Empty(t, a.pending)
	assert.Len(t, a.connSemaphore, 0)
	assert.False(t, <-pc.verdict, "reader is told to stop")

	// Another socket takes the slot; a late disconnect report for the
	// removed one must not free it.
	a.connSemaphore <- struct{}{}
	a.handleGone(pc, io.EOF)
	assert.Len(t, a.connSemaphore, 1)
}

func TestStopClosesPendingSockets(t *testing.T) {
	core := newTestCore(t, true)
	a := New(Config{BindAddress: "127.0.0.1"}, Options{Handshaker: handshake.NewHandshaker(core, handshake.ServerInfo{}, nil)})
	a.config.Port = 0

	served := make(chan error, 1)
	go func() { served <- a.Serve(context.Background()) }()
	require.Eventually(t, a.Listening, time.Second, 5*time.Millisecond)

	c, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", a.Port()))
	require.NoError(t, err)
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	conn := frame.NewConn(c, 0)
	defer conn.Close()
	roundTrip(t, conn, clientInit(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
	require.NoError(t, <-served)

	_, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.False(t, a.Listening())

	// Idempotent.
	assert.NoError(t, a.Stop(ctx))
}

func TestStopBeforeServe(t *testing.T) {
	a := New(Config{}, Options{})
	assert.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, DefaultPort, a.Port())
	assert.Equal(t, "Client", a.Protocol())
}
