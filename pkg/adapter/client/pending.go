package client

import (
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittochat/internal/logger"
	"github.com/marmos91/dittochat/internal/protocol/frame"
	"github.com/marmos91/dittochat/internal/protocol/handshake"
)

type eventKind int

const (
	eventAccepted eventKind = iota
	eventMessage
	eventGone
)

// event is what the I/O pumps report to the acceptance goroutine.
type event struct {
	kind eventKind

	// raw is set for eventAccepted.
	raw net.Conn

	// id names the pending socket for eventMessage and eventGone.
	id  string
	msg frame.Message
	err error
}

// PendingConnection is an accepted socket that has not been handed to a
// session yet.
type PendingConnection struct {
	ID          string
	conn        *frame.Conn
	raw         net.Conn
	machine     *handshake.Machine
	connectedAt time.Time

	// verdict tells the reader whether to read another frame. It is
	// buffered so the acceptance goroutine never blocks on it.
	verdict chan bool

	removed bool
}

// ConnectedAt returns when the socket was accepted.
func (pc *PendingConnection) ConnectedAt() time.Time {
	return pc.connectedAt
}

// State returns the handshake state of the socket.
func (pc *PendingConnection) State() handshake.State {
	return pc.machine.State()
}

// readLoop reads one frame at a time and waits for the acceptance goroutine
// to process it before reading the next. It stops on the first read error,
// on a false verdict or on shutdown.
func (a *ClientAdapter) readLoop(pc *PendingConnection) {
	defer a.workers.Done()

	for {
		msg, err := pc.conn.ReadMessage()
		if err != nil {
			a.post(event{kind: eventGone, id: pc.ID, err: err})
			return
		}
		if !a.post(event{kind: eventMessage, id: pc.ID, msg: msg}) {
			return
		}

		select {
		case more := <-pc.verdict:
			if !more {
				return
			}
		case <-a.shutdown:
			return
		}
	}
}

// ============================================================================
// Acceptance goroutine
// ============================================================================

func (a *ClientAdapter) loop() {
	defer close(a.loopDone)
	defer a.closeAll()

	for {
		select {
		case <-a.shutdown:
			return
		case ev := <-a.events:
			switch ev.kind {
			case eventAccepted:
				a.handleAccepted(ev.raw)
			case eventMessage:
				if pc, ok := a.pending[ev.id]; ok {
					a.handleMessage(pc, ev.msg)
				}
			case eventGone:
				if pc, ok := a.pending[ev.id]; ok {
					a.handleGone(pc, ev.err)
				}
			}
		}
	}
}

func (a *ClientAdapter) handleAccepted(raw net.Conn) {
	peer := raw.RemoteAddr().String()

	if !a.configured() && len(a.pending) > 0 {
		// Another client slipped in before the listener closed.
		logger.Info("Refusing client %s while core setup is in progress", peer)
		a.metrics.RecordConnectionRejected("setup_in_progress")
		_ = raw.Close()
		a.releaseSlot()
		return
	}

	if a.config.HandshakeTimeout > 0 {
		if err := raw.SetDeadline(time.Now().Add(a.config.HandshakeTimeout)); err != nil {
			logger.Debug("Could not set handshake deadline for %s: %v", peer, err)
		}
	}

	pc := &PendingConnection{
		ID:          uuid.NewString(),
		conn:        frame.NewConn(raw, a.config.MaxFrameSize),
		raw:         raw,
		machine:     a.handshaker.NewMachine(peer),
		connectedAt: time.Now(),
		verdict:     make(chan bool, 1),
	}
	a.pending[pc.ID] = pc
	a.metrics.RecordConnectionAccepted()
	a.metrics.SetPendingConnections(len(a.pending))
	logger.Info("Client connected from %s", peer)

	if !a.configured() {
		// First-run setup is done over a single connection.
		a.stopListening()
	}

	a.workers.Add(1)
	go a.readLoop(pc)
}

// handleMessage feeds one frame to the socket's handshake and applies the
// result: reply, TLS, compression, then close or hand-off.
func (a *ClientAdapter) handleMessage(pc *PendingConnection, msg frame.Message) {
	res := pc.machine.Handle(a.shutdownCtx, msg)

	if res.Reply != nil {
		if err := pc.conn.WriteMessage(res.Reply); err != nil {
			logger.Debug("Could not reply to client %s: %v", pc.conn.RemoteAddr(), err)
			a.removePending(pc, true)
			return
		}
	}
	if res.StartTLS {
		pc.conn.StartTLS(a.tlsConfig)
	}
	if res.EnableCompression {
		pc.conn.SetCompression(true)
	}
	if res.SetupComplete {
		if err := a.startListening(); err != nil {
			logger.Error("Could not resume listening after core setup: %v", err)
		}
	}

	switch {
	case res.Close:
		a.metrics.RecordConnectionRejected("handshake")
		a.removePending(pc, true)
	case res.HandedOff():
		a.handOff(pc, res)
	default:
		pc.verdict <- true
	}
}

func (a *ClientAdapter) handleGone(pc *PendingConnection, err error) {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Info("Client %s did not complete the handshake in %v, closing", pc.conn.RemoteAddr(), a.config.HandshakeTimeout)
		a.metrics.RecordConnectionRejected("timeout")
	case errors.Is(err, frame.ErrFrameTooLarge):
		logger.Warn("Client %s sent an oversized frame: %v", pc.conn.RemoteAddr(), err)
		a.metrics.RecordConnectionRejected("frame_too_large")
	default:
		logger.Info("Non-authed client disconnected: %s", pc.conn.RemoteAddr())
	}
	a.removePending(pc, true)
}

// handOff detaches the socket from the acceptor and attaches it to the
// user's session. The reader has already stopped, so the session is the
// only one reading from the socket from now on.
func (a *ClientAdapter) handOff(pc *PendingConnection, res handshake.Result) {
	a.removePending(pc, false)

	if err := pc.raw.SetDeadline(time.Time{}); err != nil {
		logger.Debug("Could not clear deadline for %s: %v", pc.conn.RemoteAddr(), err)
	}

	if a.registry == nil {
		logger.Error("No session registry, dropping authenticated client %s", pc.conn.RemoteAddr())
		_ = pc.conn.Close()
		return
	}

	a.workers.Add(1)
	go func() {
		defer a.workers.Done()
		if err := a.registry.AttachClient(a.shutdownCtx, res.User, pc.conn); err != nil {
			logger.Warn("Could not attach client %s to session of %q: %v", pc.conn.RemoteAddr(), res.UserName, err)
		}
	}()
}

// removePending forgets pc exactly once and tells its reader to stop. When
// the core is still unconfigured and nobody else is negotiating, listening
// resumes.
func (a *ClientAdapter) removePending(pc *PendingConnection, closeConn bool) {
	if pc.removed {
		return
	}
	pc.removed = true
	delete(a.pending, pc.ID)
	a.releaseSlot()
	a.metrics.SetPendingConnections(len(a.pending))

	if closeConn {
		if err := pc.conn.Close(); err != nil {
			logger.Debug("Error closing client %s: %v", pc.conn.RemoteAddr(), err)
		}
	}
	select {
	case pc.verdict <- false:
	default:
	}

	if len(a.pending) == 0 && !a.Listening() {
		if err := a.startListening(); err != nil {
			logger.Error("Could not resume listening: %v", err)
		}
	}
}

// closeAll closes every socket still negotiating and any accept that was
// queued but never processed.
func (a *ClientAdapter) closeAll() {
	for _, pc := range a.pending {
		a.removePending(pc, true)
	}

	for {
		select {
		case ev := <-a.events:
			if ev.kind == eventAccepted {
				_ = ev.raw.Close()
				a.releaseSlot()
			}
		default:
			return
		}
	}
}
