package session

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/marmos91/dittochat/internal/protocol/frame"
	"github.com/marmos91/dittochat/pkg/storage"
)

// Messages exchanged with an attached client.
const (
	MsgSessionInit    = "SessionInit"
	MsgHeartBeat      = "HeartBeat"
	MsgHeartBeatReply = "HeartBeatReply"

	FieldSessionState = "SessionState"
	FieldNetworks     = "Networks"
	FieldBufferInfos  = "BufferInfos"
	FieldTimestamp    = "Timestamp"
)

// Client is one attached front-end connection.
type Client struct {
	id        string
	conn      *frame.Conn
	closeOnce sync.Once
}

func newClient(conn *frame.Conn) *Client {
	return &Client{id: uuid.NewString(), conn: conn}
}

// ID is unique per attachment.
func (c *Client) ID() string { return c.id }

// RemoteAddr returns the peer address as a string.
func (c *Client) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

// Send writes one message. Safe for concurrent use.
func (c *Client) Send(msg frame.Message) error {
	return c.conn.WriteMessage(msg)
}

// Close closes the connection once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

func (c *Client) readLoop(s *Session) {
	for {
		msg, err := c.conn.ReadMessage()
		if err != nil {
			if !s.post(event{kind: eventClientGone, client: c, err: err}) {
				c.Close()
			}
			return
		}
		if !s.post(event{kind: eventClientMessage, client: c, msg: msg}) {
			c.Close()
			return
		}
	}
}

// isRemoteClose reports whether err is an ordinary disconnect.
func isRemoteClose(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET)
}

// sessionInit builds the state message sent to a newly attached client.
func (s *Session) sessionInit() frame.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	networks := make([]any, 0, len(s.networks))
	for _, n := range s.networks {
		networks = append(networks, networkMap(n))
	}
	buffers := make([]any, 0, len(s.buffers))
	for _, b := range s.buffers {
		buffers = append(buffers, bufferMap(b))
	}

	return frame.Message{
		frame.MsgTypeKey: MsgSessionInit,
		FieldSessionState: map[string]any{
			FieldNetworks:    networks,
			FieldBufferInfos: buffers,
		},
	}
}

func networkMap(n storage.NetworkInfo) map[string]any {
	return map[string]any{
		"NetworkId":   int64(n.NetworkID),
		"NetworkName": n.NetworkName,
		"IdentityId":  int64(n.IdentityID),
	}
}

func bufferMap(b storage.BufferInfo) map[string]any {
	return map[string]any{
		"BufferId":  int64(b.BufferID),
		"NetworkId": int64(b.NetworkID),
		"Type":      int64(b.Type),
		"GroupId":   int64(b.GroupID),
		"Name":      b.Name,
	}
}
