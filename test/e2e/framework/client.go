package framework

import (
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/marmos91/dittochat/internal/protocol/frame"
	"github.com/marmos91/dittochat/internal/protocol/handshake"
	"github.com/marmos91/dittochat/pkg/session"
	"github.com/stretchr/testify/require"
)

// TestClient speaks the client side of the core protocol.
type TestClient struct {
	t    testing.TB
	raw  net.Conn
	conn *frame.Conn
}

// Dial connects to addr. Refused connections are retried for a moment since
// an unconfigured core reopens its listener asynchronously.
func Dial(t testing.TB, addr string) *TestClient {
	t.Helper()

	var (
		raw net.Conn
		err error
	)
	deadline := time.Now().Add(3 * time.Second)
	for {
		raw, err = net.DialTimeout("tcp", addr, time.Second)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err, "dial %s", addr)
	require.NoError(t, raw.SetDeadline(time.Now().Add(10*time.Second)))

	c := &TestClient{t: t, raw: raw, conn: frame.NewConn(raw, 0)}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// Send writes one message.
func (c *TestClient) Send(msg frame.Message) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(msg))
}

// Receive reads one message.
func (c *TestClient) Receive() frame.Message {
	c.t.Helper()
	msg, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	return msg
}

// RoundTrip sends msg and returns the reply.
func (c *TestClient) RoundTrip(msg frame.Message) frame.Message {
	c.t.Helper()
	c.Send(msg)
	return c.Receive()
}

// Init sends ClientInit and returns the reply. extra fields are merged in.
func (c *TestClient) Init(extra frame.Message) frame.Message {
	c.t.Helper()
	msg := frame.Message{
		frame.MsgTypeKey:               handshake.MsgClientInit,
		handshake.FieldProtocolVersion: handshake.ProtocolVersion,
		handshake.FieldClientBuild:     handshake.CoreBuild,
	}
	for k, v := range extra {
		msg[k] = v
	}
	return c.RoundTrip(msg)
}

// Setup sends CoreSetupData for backend with the given admin account.
func (c *TestClient) Setup(backend, user, password string, properties map[string]any) frame.Message {
	c.t.Helper()
	data := map[string]any{
		"Backend":     backend,
		"AdminUser":   user,
		"AdminPasswd": password,
	}
	if properties != nil {
		data["ConnectionProperties"] = properties
	}
	return c.RoundTrip(frame.Message{
		frame.MsgTypeKey:         handshake.MsgCoreSetupData,
		handshake.FieldSetupData: data,
	})
}

// Login sends ClientLogin and returns the reply.
func (c *TestClient) Login(user, password string) frame.Message {
	c.t.Helper()
	return c.RoundTrip(frame.Message{
		frame.MsgTypeKey:        handshake.MsgClientLogin,
		handshake.FieldUser:     user,
		handshake.FieldPassword: password,
	})
}

// LoginSession logs in and reads the SessionInit that follows a successful
// login.
func (c *TestClient) LoginSession(user, password string) frame.Message {
	c.t.Helper()
	reply := c.Login(user, password)
	require.Equal(c.t, handshake.MsgClientLoginAck, reply.Type(), "login rejected: %s", reply.String(handshake.FieldError))

	init := c.Receive()
	require.Equal(c.t, session.MsgSessionInit, init.Type())
	return init
}

// HeartBeat sends a heartbeat and waits for the reply.
func (c *TestClient) HeartBeat() frame.Message {
	c.t.Helper()
	reply := c.RoundTrip(frame.Message{
		frame.MsgTypeKey:      session.MsgHeartBeat,
		session.FieldTimestamp: time.Now().Unix(),
	})
	require.Equal(c.t, session.MsgHeartBeatReply, reply.Type())
	return reply
}

// StartTLS switches to client-side TLS after a ClientInitAck that accepted
// UseSsl. The core uses a self-signed certificate, so verification is skipped.
func (c *TestClient) StartTLS() {
	c.t.Helper()
	tlsConn := tls.Client(c.raw, &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12})
	require.NoError(c.t, tlsConn.Handshake())
	c.conn = frame.NewConn(tlsConn, 0)
}

// EnableCompression turns on compression for subsequent frames.
func (c *TestClient) EnableCompression() {
	c.conn.SetCompression(true)
}

// ExpectClosed asserts that the core closes the connection.
func (c *TestClient) ExpectClosed() {
	c.t.Helper()
	_, err := c.conn.ReadMessage()
	require.Error(c.t, err)
}

// Close closes the connection.
func (c *TestClient) Close() error {
	return c.conn.Close()
}
