package storage

import (
	"strings"
	"time"
)

// UserID identifies an account. It is minted by the backend on account
// creation and never reused. Zero is invalid.
type UserID int64

// NetworkID identifies a network configuration owned by one user.
type NetworkID int64

// BufferID identifies a buffer (status window, channel or query).
type BufferID int64

// IdentityID identifies a user's IRC identity.
type IdentityID int64

// MsgID identifies a logged message. IDs grow with insertion order.
type MsgID int64

// IsValid reports whether the id was minted by a backend.
func (id UserID) IsValid() bool { return id > 0 }

// IsValid reports whether the id was minted by a backend.
func (id NetworkID) IsValid() bool { return id > 0 }

// IsValid reports whether the id was minted by a backend.
func (id BufferID) IsValid() bool { return id > 0 }

// IsValid reports whether the id was minted by a backend.
func (id MsgID) IsValid() bool { return id > 0 }

// Descriptor is the public face of a backend, advertised to unconfigured clients.
type Descriptor struct {
	DisplayName string
	Description string
}

// ServerEntry is one IRC server in a network's server list.
type ServerEntry struct {
	Host     string `json:"host"`
	Port     uint16 `json:"port"`
	Password string `json:"password,omitempty"`
	UseSSL   bool   `json:"use_ssl"`
}

// NetworkInfo is the persisted configuration of one IRC network.
type NetworkInfo struct {
	NetworkID   NetworkID     `json:"network_id"`
	NetworkName string        `json:"network_name"`
	IdentityID  IdentityID    `json:"identity_id"`
	ServerList  []ServerEntry `json:"server_list"`
	Perform     []string      `json:"perform"`

	CodecForServer   string `json:"codec_for_server"`
	CodecForEncoding string `json:"codec_for_encoding"`
	CodecForDecoding string `json:"codec_for_decoding"`

	UseRandomServer           bool   `json:"use_random_server"`
	UseAutoIdentify           bool   `json:"use_auto_identify"`
	AutoIdentifyService       string `json:"auto_identify_service"`
	AutoIdentifyPassword      string `json:"auto_identify_password"`
	UseAutoReconnect          bool   `json:"use_auto_reconnect"`
	AutoReconnectInterval     uint32 `json:"auto_reconnect_interval"`
	AutoReconnectRetries      uint16 `json:"auto_reconnect_retries"`
	UnlimitedReconnectRetries bool   `json:"unlimited_reconnect_retries"`
	RejoinChannels            bool   `json:"rejoin_channels"`
}

// BufferType classifies a buffer.
type BufferType int

const (
	InvalidBuffer BufferType = 0x00
	StatusBuffer  BufferType = 0x01
	ChannelBuffer BufferType = 0x02
	QueryBuffer   BufferType = 0x04
	GroupBuffer   BufferType = 0x08
)

func (t BufferType) String() string {
	switch t {
	case StatusBuffer:
		return "status"
	case ChannelBuffer:
		return "channel"
	case QueryBuffer:
		return "query"
	case GroupBuffer:
		return "group"
	default:
		return "invalid"
	}
}

// BufferInfo describes a buffer.
type BufferInfo struct {
	BufferID  BufferID   `json:"buffer_id"`
	NetworkID NetworkID  `json:"network_id"`
	Type      BufferType `json:"type"`
	GroupID   uint32     `json:"group_id"`
	Name      string     `json:"name"`
}

// NormalizeBufferName is the key used for case-insensitive buffer lookups.
func NormalizeBufferName(name string) string {
	return strings.ToLower(name)
}

// MessageType is the IRC-level kind of a logged message.
type MessageType uint32

const (
	PlainMessage  MessageType = 0x00001
	NoticeMessage MessageType = 0x00002
	ActionMessage MessageType = 0x00004
	NickMessage   MessageType = 0x00008
	ModeMessage   MessageType = 0x00010
	JoinMessage   MessageType = 0x00020
	PartMessage   MessageType = 0x00040
	QuitMessage   MessageType = 0x00080
	KickMessage   MessageType = 0x00100
	KillMessage   MessageType = 0x00200
	ServerMessage MessageType = 0x00400
	InfoMessage   MessageType = 0x00800
	ErrorMessage  MessageType = 0x01000
	TopicMessage  MessageType = 0x04000
)

// MessageFlags carries per-message markers such as self or highlight.
type MessageFlags uint8

const (
	FlagSelf       MessageFlags = 0x01
	FlagHighlight  MessageFlags = 0x02
	FlagRedirected MessageFlags = 0x04
	FlagBacklog    MessageFlags = 0x80
)

// Message is one logged chat line.
type Message struct {
	MsgID      MsgID        `json:"msg_id"`
	Timestamp  time.Time    `json:"timestamp"`
	BufferInfo BufferInfo   `json:"buffer_info"`
	Type       MessageType  `json:"type"`
	Flags      MessageFlags `json:"flags"`
	Sender     string       `json:"sender"`
	Contents   string       `json:"contents"`
}

// Clone returns a deep copy of n.
func (n NetworkInfo) Clone() NetworkInfo {
	out := n
	out.ServerList = append([]ServerEntry(nil), n.ServerList...)
	out.Perform = append([]string(nil), n.Perform...)
	return out
}
