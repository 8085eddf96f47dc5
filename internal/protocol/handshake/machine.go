package handshake

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/dittochat/internal/logger"
	"github.com/marmos91/dittochat/internal/protocol/frame"
	"github.com/marmos91/dittochat/pkg/gate"
	"github.com/marmos91/dittochat/pkg/metrics"
	"github.com/marmos91/dittochat/pkg/storage"
)

// State is the position of a socket in the handshake.
type State int

const (
	// StateAwaitingInit accepts only ClientInit.
	StateAwaitingInit State = iota

	// StateAwaitingLogin accepts CoreSetupData and ClientLogin.
	StateAwaitingLogin

	// StateHandedOff is terminal: the socket belongs to a session.
	StateHandedOff

	// StateRejected is terminal: the socket must be closed.
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateAwaitingInit:
		return "awaiting-init"
	case StateAwaitingLogin:
		return "awaiting-login"
	case StateHandedOff:
		return "handed-off"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result is what the caller must do after one message.
//
// The actions apply in field order: write Reply (if any) on the current
// transport, then StartTLS, then EnableCompression, then either Close or
// hand the socket to the session of User.
type Result struct {
	Reply frame.Message

	StartTLS          bool
	EnableCompression bool

	// SetupComplete is set after a successful CoreSetupData.
	SetupComplete bool

	Close bool

	// User is valid once the client authenticated.
	User     storage.UserID
	UserName string
}

// HandedOff reports whether the socket now belongs to a session.
func (r Result) HandedOff() bool {
	return r.User.IsValid()
}

// ============================================================================
// Handshaker
// ============================================================================

// Handshaker holds the settings shared by every Machine.
type Handshaker struct {
	core    Core
	info    ServerInfo
	metrics metrics.ClientMetrics

	// MinProtocolVersion defaults to MinProtocolVersion.
	MinProtocolVersion uint64

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewHandshaker creates a Handshaker. A nil m disables metrics.
func NewHandshaker(core Core, info ServerInfo, m metrics.ClientMetrics) *Handshaker {
	if m == nil {
		m = metrics.NewNoopClientMetrics()
	}
	return &Handshaker{
		core:               core,
		info:               info,
		metrics:            m,
		MinProtocolVersion: MinProtocolVersion,
		Now:                time.Now,
	}
}

// Info returns the advertised server identity.
func (h *Handshaker) Info() ServerInfo {
	return h.info
}

// NewMachine starts a fresh handshake for the socket at peer. peer is only
// used in log lines.
func (h *Handshaker) NewMachine(peer string) *Machine {
	return &Machine{h: h, peer: peer}
}

// ============================================================================
// Machine
// ============================================================================

// Machine tracks one socket through the handshake. It is not safe for
// concurrent use; messages for a socket must be handled in arrival order.
type Machine struct {
	h    *Handshaker
	peer string

	state   State
	version uint64
	init    frame.Message

	tls         bool
	compression bool
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// ProtocolVersion returns the negotiated protocol version, 0 before init.
func (m *Machine) ProtocolVersion() uint64 { return m.version }

// ClientInit returns the init message the client sent, or nil.
func (m *Machine) ClientInit() frame.Message { return m.init }

// TLS reports whether the socket was told to switch to TLS.
func (m *Machine) TLS() bool { return m.tls }

// Compression reports whether compression was agreed.
func (m *Machine) Compression() bool { return m.compression }

// Handle processes one inbound message.
//
// Messages arriving after the machine reached a terminal state produce an
// empty Result (or Close for a rejected socket) so a caller that still had
// frames buffered can drop them safely.
func (m *Machine) Handle(ctx context.Context, msg frame.Message) Result {
	switch m.state {
	case StateHandedOff:
		return Result{}
	case StateRejected:
		return Result{Close: true}
	}

	if !msg.Has(frame.MsgTypeKey) {
		logger.Warn("Antique client %s does not use the init envelope, refusing", m.peer)
		m.h.metrics.RecordHandshake("none", "closed")
		return m.reject(nil)
	}

	kind := msg.Type()
	if kind == MsgClientInit {
		return m.handleInit(msg)
	}

	if m.state == StateAwaitingInit {
		logger.Warn("Client %s sent %q before init, rejecting", m.peer, kind)
		m.h.metrics.RecordHandshake(kind, "reject")
		return m.reject(frame.Message{
			frame.MsgTypeKey: MsgClientLoginReject,
			FieldError:       errNotInitialized,
		})
	}

	switch kind {
	case MsgCoreSetupData:
		return m.handleSetup(ctx, msg)
	case MsgClientLogin:
		return m.handleLogin(ctx, msg)
	default:
		logger.Debug("Ignoring unexpected %q from client %s", kind, m.peer)
		m.h.metrics.RecordHandshake(kind, "ignored")
		return Result{}
	}
}

func (m *Machine) reject(reply frame.Message) Result {
	m.state = StateRejected
	return Result{Reply: reply, Close: true}
}

// negotiatedVersion reads ProtocolVersion, falling back to the legacy
// build-number rule for clients that predate the field.
func negotiatedVersion(msg frame.Message) uint64 {
	if msg.Has(FieldProtocolVersion) {
		return msg.Uint(FieldProtocolVersion)
	}
	if msg.Uint(FieldClientBuild) >= legacyClientBuild {
		return legacyClientProtocol
	}
	return 0
}

// handleInit answers ClientInit with the server identity and capabilities.
//
// For an unconfigured core the reply lists the selectable backends and
// disables login so the client runs its setup wizard. TLS and compression are
// switched on only after the reply is written, since the client reads the
// capability list in plaintext.
func (m *Machine) handleInit(msg frame.Message) Result {
	version := negotiatedVersion(msg)
	if version < m.h.MinProtocolVersion {
		logger.Warn("Client %s speaks protocol %d (minimum %d), rejecting", m.peer, version, m.h.MinProtocolVersion)
		m.h.metrics.RecordHandshake(MsgClientInit, "reject")
		return m.reject(frame.Message{
			frame.MsgTypeKey: MsgClientInitReject,
			FieldError:       errTooOld(m.h.MinProtocolVersion),
		})
	}

	info := m.h.info
	reply := frame.Message{
		frame.MsgTypeKey:         MsgClientInitAck,
		FieldCoreVersion:         info.CoreVersion,
		FieldCoreDate:            info.CoreDate,
		FieldCoreBuild:           CoreBuild,
		FieldProtocolVersion:     ProtocolVersion,
		FieldCoreInfo:            info.CoreInfo(m.h.Now()),
		FieldSupportSsl:          info.SupportSsl,
		FieldSupportsCompression: info.SupportsCompression,
		FieldLoginEnabled:        true,
		FieldConfigured:          true,
	}

	if !m.h.core.Configured() {
		descriptors := m.h.core.Backends()
		backends := make([]any, 0, len(descriptors))
		for _, d := range descriptors {
			backends = append(backends, map[string]any{
				FieldDisplayName: d.DisplayName,
				FieldDescription: d.Description,
			})
		}
		reply[FieldConfigured] = false
		reply[FieldLoginEnabled] = false
		reply[FieldStorageBackends] = backends
	}

	result := Result{Reply: reply}
	if info.SupportSsl && msg.Bool(FieldUseSsl) && !m.tls {
		logger.Debug("Starting TLS for client %s", m.peer)
		m.tls = true
		result.StartTLS = true
	}
	if info.SupportsCompression && msg.Bool(FieldUseCompression) && !m.compression {
		logger.Debug("Using compression for client %s", m.peer)
		m.compression = true
		result.EnableCompression = true
	}

	m.version = version
	m.init = msg
	m.state = StateAwaitingLogin
	m.h.metrics.RecordHandshake(MsgClientInit, "ack")
	return result
}

// handleSetup configures an empty core. The socket stays in
// StateAwaitingLogin either way; the client logs in afterwards.
func (m *Machine) handleSetup(ctx context.Context, msg frame.Message) Result {
	setupData := map[string]any(msg.Map(FieldSetupData))
	if setupData == nil {
		setupData = map[string]any{}
	}

	if err := m.h.core.SetupCore(ctx, setupData); err != nil {
		logger.Warn("Core setup from %s failed: %v", m.peer, err)
		m.h.metrics.RecordHandshake(MsgCoreSetupData, "reject")
		return Result{Reply: frame.Message{
			frame.MsgTypeKey: MsgCoreSetupReject,
			FieldError:       setupError(err),
		}}
	}

	logger.Info("Core configured by client %s", m.peer)
	m.h.metrics.RecordHandshake(MsgCoreSetupData, "ack")
	return Result{
		Reply:         frame.Message{frame.MsgTypeKey: MsgCoreSetupAck},
		SetupComplete: true,
	}
}

func setupError(err error) string {
	switch {
	case errors.Is(err, gate.ErrInvalidSetup):
		return errSetupNoAdmin
	case errors.Is(err, gate.ErrAlreadyConfigured):
		return errSetupRepeated
	default:
		return errSetupFailed
	}
}

// handleLogin validates credentials. A failed login leaves the socket open
// so the client can retry.
func (m *Machine) handleLogin(ctx context.Context, msg frame.Message) Result {
	user := msg.String(FieldUser)

	uid, err := m.h.core.ValidateUser(ctx, user, msg.String(FieldPassword))
	if err != nil || !uid.IsValid() {
		if err != nil && !storage.IsInvalidCredentials(err) {
			logger.Warn("Login check for client %s failed: %v", m.peer, err)
		}
		logger.Info("Client %s failed to authenticate", m.peer)
		m.h.metrics.RecordHandshake(MsgClientLogin, "reject")
		return Result{Reply: frame.Message{
			frame.MsgTypeKey: MsgClientLoginReject,
			FieldError:       errBadCredentials,
		}}
	}

	logger.Info("Client %s initialized and authenticated successfully as %q (UserId: %d)", m.peer, user, uid)
	m.h.metrics.RecordHandshake(MsgClientLogin, "ack")
	m.state = StateHandedOff
	return Result{
		Reply:    frame.Message{frame.MsgTypeKey: MsgClientLoginAck},
		User:     uid,
		UserName: user,
	}
}
