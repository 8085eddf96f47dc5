// Package handshake implements the pre-authentication message exchange
// between a client and the core.
//
// A Machine is created per accepted socket and fed one decoded frame at a
// time. It never touches the socket: every decision is returned as a Result
// that the caller applies (send the reply, then switch to TLS, then enable
// compression, then close or hand off). Keeping the machine free of I/O
// makes every transition testable without a network.
package handshake

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittochat/pkg/storage"
)

// ============================================================================
// Protocol Constants
// ============================================================================

const (
	// ProtocolVersion is the client/core protocol version this core speaks.
	ProtocolVersion = 10

	// MinProtocolVersion is the oldest client protocol version accepted.
	MinProtocolVersion = 10

	// CoreBuild is advertised for clients that still key features on a build number.
	CoreBuild = 860

	// legacyClientBuild is the first client build that understands the
	// init envelope without sending ProtocolVersion. Such clients speak
	// protocol version 1.
	legacyClientBuild    = 732
	legacyClientProtocol = 1
)

// Message kinds carried in the MsgType field.
const (
	MsgClientInit       = "ClientInit"
	MsgClientInitAck    = "ClientInitAck"
	MsgClientInitReject = "ClientInitReject"

	MsgCoreSetupData   = "CoreSetupData"
	MsgCoreSetupAck    = "CoreSetupAck"
	MsgCoreSetupReject = "CoreSetupReject"

	MsgClientLogin       = "ClientLogin"
	MsgClientLoginAck    = "ClientLoginAck"
	MsgClientLoginReject = "ClientLoginReject"
)

// Field names used by the handshake messages.
const (
	FieldError               = "Error"
	FieldProtocolVersion     = "ProtocolVersion"
	FieldClientBuild         = "ClientBuild"
	FieldUseSsl              = "UseSsl"
	FieldUseCompression      = "UseCompression"
	FieldCoreVersion         = "CoreVersion"
	FieldCoreDate            = "CoreDate"
	FieldCoreBuild           = "CoreBuild"
	FieldCoreInfo            = "CoreInfo"
	FieldSupportSsl          = "SupportSsl"
	FieldSupportsCompression = "SupportsCompression"
	FieldLoginEnabled        = "LoginEnabled"
	FieldConfigured          = "Configured"
	FieldStorageBackends     = "StorageBackends"
	FieldSetupData           = "SetupData"
	FieldUser                = "User"
	FieldPassword            = "Password"
	FieldDisplayName         = "DisplayName"
	FieldDescription         = "Description"
)

// Rejection texts. The login rejection is the same for an unknown user and
// a wrong password.
const (
	errNotInitialized = "Client not initialized. You need to send an init message before trying to login."
	errBadCredentials = "Invalid username or password. The username/password combination you supplied could not be found in the database."
	errSetupFailed    = "Could not set up storage."
	errSetupRepeated  = "The core is already configured."
	errSetupNoAdmin   = "Admin user or password not set."
)

func errTooOld(min uint64) string {
	return fmt.Sprintf("Your client is too old. This core needs at least client/core protocol version %d. Please consider upgrading your client.", min)
}

// ============================================================================
// Collaborators
// ============================================================================

// Core is what the handshake needs from the rest of the process.
type Core interface {
	// Configured reports whether a storage backend has been committed.
	Configured() bool

	// Backends lists the backends a first-run client may choose from.
	Backends() []storage.Descriptor

	// SetupCore configures storage and creates the administrator from the
	// client's setup data.
	SetupCore(ctx context.Context, setupData map[string]any) error

	// ValidateUser checks credentials against the active backend.
	ValidateUser(ctx context.Context, user, password string) (storage.UserID, error)
}

// ServerInfo is the identity and capability set advertised in ClientInitAck.
type ServerInfo struct {
	CoreVersion string
	CoreDate    string
	StartTime   time.Time

	// SupportSsl is true only when a certificate is loaded and currently valid.
	SupportSsl          bool
	SupportsCompression bool
}

// UptimeSummary renders the uptime line of CoreInfo, for example
// "Up 3d04h17m (since Mon Oct 12 08:00:00 2026)".
func UptimeSummary(start, now time.Time) string {
	uptime := int64(now.Sub(start) / time.Second)
	if uptime < 0 {
		uptime = 0
	}
	days := uptime / 86400
	uptime %= 86400
	hours := uptime / 3600
	uptime %= 3600
	mins := uptime / 60

	return fmt.Sprintf("Up %dd%02dh%02dm (since %s)", days, hours, mins, start.Format(time.ANSIC))
}

// CoreInfo renders the human-readable core summary.
func (i ServerInfo) CoreInfo(now time.Time) string {
	return fmt.Sprintf("DittoChat Core Version %s\nBuilt: %s\n%s",
		i.CoreVersion, i.CoreDate, UptimeSummary(i.StartTime, now))
}
