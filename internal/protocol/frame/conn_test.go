package frame

import (
	"crypto/tls"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/marmos91/dittochat/internal/tlsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return NewConn(a, 0), NewConn(b, 0)
}

func sendAsync(c *Conn, msg Message) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.WriteMessage(msg) }()
	return done
}

func TestReadWriteMessage(t *testing.T) {
	server, client := pipe(t)

	sent := Message{
		MsgTypeKey:        "ClientInit",
		"ProtocolVersion": uint64(10),
		"UseSsl":          true,
		"Nested":          map[string]any{"List": []any{"a", "b"}},
	}
	done := sendAsync(client, sent)

	got, err := server.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, "ClientInit", got.Type())
	assert.Equal(t, uint64(10), got.Uint("ProtocolVersion"))
	assert.True(t, got.Bool("UseSsl"))
	assert.Equal(t, []any{"a", "b"}, got.Map("Nested")["List"])
}

func TestCompressedFrames(t *testing.T) {
	server, client := pipe(t)
	server.SetCompression(true)
	client.SetCompression(true)

	done := sendAsync(client, Message{MsgTypeKey: "ClientLogin", "User": "alice"})
	got, err := server.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, "alice", got.String("User"))
}

func TestFrameTooLarge(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	server := NewConn(a, 8)

	go func() {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], 1024)
		_, _ = b.Write(header[:])
	}()

	_, err := server.ReadMessage()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeRejectsNonMap(t *testing.T) {
	payload, err := encMode.Marshal([]string{"not", "a", "map"})
	require.NoError(t, err)
	_, err = Decode(payload)
	assert.Error(t, err)
}

func TestStartTLS(t *testing.T) {
	certPEM, keyPEM, err := tlsutil.GenerateSelfSigned("localhost", time.Hour)
	require.NoError(t, err)
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	server := NewConn(a, 0)
	server.StartTLS(&tls.Config{Certificates: []tls.Certificate{pair}})

	clientTLS := tls.Client(b, &tls.Config{InsecureSkipVerify: true})
	client := NewConn(clientTLS, 0)

	done := sendAsync(client, Message{MsgTypeKey: "ClientLogin"})
	got, err := server.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, "ClientLogin", got.Type())

	_, isTLS := server.NetConn().(*tls.Conn)
	assert.True(t, isTLS)
}
