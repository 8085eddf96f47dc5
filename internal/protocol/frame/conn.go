package frame

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zlib"
)

// DefaultMaxFrameSize bounds a single payload when no limit is configured.
const DefaultMaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when a peer announces a payload above the limit.
var ErrFrameTooLarge = errors.New("frame too large")

// Conn carries length-prefixed messages over a stream connection.
//
// Each frame is a 4-byte big-endian byte count followed by that many payload
// bytes. When compression is enabled the payload is zlib-compressed; the
// length prefix always describes the bytes on the wire.
//
// Reads must come from a single goroutine at a time. Writes are serialized
// internally and may be issued from any goroutine.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	compress     atomic.Bool
	maxFrameSize uint32
}

// NewConn wraps c. maxFrameSize of 0 selects DefaultMaxFrameSize.
func NewConn(c net.Conn, maxFrameSize uint32) *Conn {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Conn{
		conn:         c,
		reader:       bufio.NewReader(c),
		maxFrameSize: maxFrameSize,
	}
}

// NetConn returns the current underlying connection (a *tls.Conn after StartTLS).
func (c *Conn) NetConn() net.Conn {
	return c.conn
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetCompression toggles payload compression for subsequent frames in both directions.
func (c *Conn) SetCompression(enabled bool) {
	c.compress.Store(enabled)
}

// Compressed reports whether payload compression is active.
func (c *Conn) Compressed() bool {
	return c.compress.Load()
}

// StartTLS upgrades the connection to server-side TLS in place. Bytes already
// buffered from the plaintext stream are fed to the TLS layer first. The TLS
// handshake itself runs lazily on the next read or write.
func (c *Conn) StartTLS(cfg *tls.Config) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	raw := c.conn
	if n := c.reader.Buffered(); n > 0 {
		pending, _ := c.reader.Peek(n)
		raw = &prefixConn{
			Conn:   raw,
			reader: io.MultiReader(bytes.NewReader(append([]byte(nil), pending...)), raw),
		}
	}

	tlsConn := tls.Server(raw, cfg)
	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
}

// ReadMessage blocks until one complete frame has been read and decoded.
func (c *Conn) ReadMessage() (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.reader, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > c.maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, c.maxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	if c.compress.Load() {
		var err error
		payload, err = inflate(payload, c.maxFrameSize)
		if err != nil {
			return nil, err
		}
	}

	return Decode(payload)
}

// WriteMessage encodes msg and writes it as one frame.
func (c *Conn) WriteMessage(msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	if c.compress.Load() {
		payload, err = deflate(payload)
		if err != nil {
			return err
		}
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func deflate(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	return buf.Bytes(), nil
}

func inflate(payload []byte, limit uint32) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	if uint32(len(out)) > limit {
		return nil, fmt.Errorf("%w: inflated payload exceeds %d bytes", ErrFrameTooLarge, limit)
	}
	return out, nil
}

// prefixConn replays buffered bytes before reading from the wrapped connection.
type prefixConn struct {
	net.Conn
	reader io.Reader
}

func (p *prefixConn) Read(b []byte) (int, error) {
	return p.reader.Read(b)
}
