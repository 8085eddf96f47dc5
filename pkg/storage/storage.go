// Package storage defines the contract every persistence backend implements:
// accounts and credentials, per-user settings, network and channel
// configuration, buffer metadata and message history.
//
// Backends are not assumed to be safe for concurrent use. All calls from the
// rest of the system go through pkg/gate, which serializes them behind one
// lock.
package storage

import (
	"context"
	"time"
)

// Backend is a pluggable persistence engine.
//
// Lifecycle:
//  1. The core registers every compiled-in backend whose IsAvailable() is true.
//  2. Init(settings) opens an existing store. An empty or missing store yields
//     an ErrNotInitialized StoreError.
//  3. During first-run setup only, Setup(settings) creates the store and Init
//     is retried once.
//  4. Sync() is called periodically to flush buffered writes.
//  5. Close() releases resources. Backends discarded at commit time are
//     closed without ever being initialized.
type Backend interface {
	// DisplayName is the unique key clients use to select the backend.
	DisplayName() string

	// Description is a human-readable summary shown during setup.
	Description() string

	// IsAvailable reports whether the backend's runtime dependency is present.
	IsAvailable() bool

	Init(ctx context.Context, settings map[string]any) error
	Setup(ctx context.Context, settings map[string]any) error
	Sync(ctx context.Context) error
	Close() error

	UserStore
	NetworkStore
	BufferStore
	MessageStore
}

// UserStore manages accounts and arbitrary per-user settings.
type UserStore interface {
	// AddUser creates an account. The password is stored hashed.
	AddUser(ctx context.Context, user, password string) (UserID, error)

	UpdateUserPassword(ctx context.Context, user UserID, password string) error
	RenameUser(ctx context.Context, user UserID, newName string) error

	// ValidateUser checks a username/password pair. Any mismatch, including
	// an unknown username, yields an ErrInvalidCredentials StoreError.
	ValidateUser(ctx context.Context, user, password string) (UserID, error)

	// DelUser removes the account and everything it owns.
	DelUser(ctx context.Context, user UserID) error

	SetUserSetting(ctx context.Context, user UserID, name string, data any) error

	// GetUserSetting returns the stored value or def when unset.
	GetUserSetting(ctx context.Context, user UserID, name string, def any) (any, error)
}

// NetworkStore manages network configuration and persistent channels.
type NetworkStore interface {
	// CreateNetwork stores info and returns the new id. info.NetworkID is ignored.
	CreateNetwork(ctx context.Context, user UserID, info NetworkInfo) (NetworkID, error)
	UpdateNetwork(ctx context.Context, user UserID, info NetworkInfo) error

	// RemoveNetwork deletes the network together with its buffers and backlog.
	RemoveNetwork(ctx context.Context, user UserID, network NetworkID) error

	Networks(ctx context.Context, user UserID) ([]NetworkInfo, error)
	NetworkID(ctx context.Context, user UserID, name string) (NetworkID, error)
	ConnectedNetworks(ctx context.Context, user UserID) ([]NetworkID, error)
	SetNetworkConnected(ctx context.Context, user UserID, network NetworkID, connected bool) error

	// PersistentChannels maps joined channel names to their keys.
	PersistentChannels(ctx context.Context, user UserID, network NetworkID) (map[string]string, error)
	SetChannelPersistent(ctx context.Context, user UserID, network NetworkID, channel string, joined bool) error
	SetPersistentChannelKey(ctx context.Context, user UserID, network NetworkID, channel, key string) error
}

// BufferStore manages buffer metadata.
type BufferStore interface {
	// BufferInfo looks up a buffer by (network, case-insensitive name),
	// creating it with the given type when missing.
	BufferInfo(ctx context.Context, user UserID, network NetworkID, bufType BufferType, name string) (BufferInfo, error)

	GetBufferInfo(ctx context.Context, user UserID, buffer BufferID) (BufferInfo, error)
	RequestBuffers(ctx context.Context, user UserID) ([]BufferInfo, error)
	RequestBufferIDsForNetwork(ctx context.Context, user UserID, network NetworkID) ([]BufferID, error)
	RemoveBuffer(ctx context.Context, user UserID, buffer BufferID) error

	// RenameBuffer renames oldName to newName within network and returns the
	// buffer's id. Renaming onto an existing buffer fails with ErrAlreadyExists.
	RenameBuffer(ctx context.Context, user UserID, network NetworkID, newName, oldName string) (BufferID, error)

	SetBufferLastSeenMsg(ctx context.Context, user UserID, buffer BufferID, msg MsgID) error
	BufferLastSeenMsgIDs(ctx context.Context, user UserID) (map[BufferID]MsgID, error)
}

// MessageStore logs and retrieves backlog. Retrieval results are ordered
// newest first.
type MessageStore interface {
	// LogMessage appends msg to its buffer and returns the new id.
	LogMessage(ctx context.Context, user UserID, msg Message) (MsgID, error)

	// RequestMsgs returns up to last messages, all of them when last <= 0.
	// When offset is valid, only messages older than offset are considered.
	RequestMsgs(ctx context.Context, user UserID, buffer BufferID, last int, offset MsgID) ([]Message, error)

	// RequestMsgsSince returns messages at or after since. When offset is
	// valid, only messages older than offset are considered.
	RequestMsgsSince(ctx context.Context, user UserID, buffer BufferID, since time.Time, offset MsgID) ([]Message, error)

	// RequestMsgRange returns messages with first <= id <= last. An invalid
	// last leaves the range open-ended.
	RequestMsgRange(ctx context.Context, user UserID, buffer BufferID, first, last MsgID) ([]Message, error)
}

// DescriptorOf returns the public descriptor of b.
func DescriptorOf(b Backend) Descriptor {
	return Descriptor{DisplayName: b.DisplayName(), Description: b.Description()}
}
