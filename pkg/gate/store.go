package gate

import (
	"context"
	"time"

	"github.com/marmos91/dittochat/pkg/storage"
)

// Store is the data surface sessions use. *Gate implements it.
type Store interface {
	storage.UserStore
	storage.NetworkStore
	storage.BufferStore
	storage.MessageStore
}

var _ Store = (*Gate)(nil)

func (g *Gate) AddUser(ctx context.Context, user, password string) (storage.UserID, error) {
	return with(ctx, g, "AddUser", func(ctx context.Context, b storage.Backend) (storage.UserID, error) {
		return b.AddUser(ctx, user, password)
	})
}

func (g *Gate) UpdateUserPassword(ctx context.Context, user storage.UserID, password string) error {
	return exec(ctx, g, "UpdateUserPassword", func(ctx context.Context, b storage.Backend) error {
		return b.UpdateUserPassword(ctx, user, password)
	})
}

func (g *Gate) RenameUser(ctx context.Context, user storage.UserID, newName string) error {
	return exec(ctx, g, "RenameUser", func(ctx context.Context, b storage.Backend) error {
		return b.RenameUser(ctx, user, newName)
	})
}

func (g *Gate) ValidateUser(ctx context.Context, user, password string) (storage.UserID, error) {
	return with(ctx, g, "ValidateUser", func(ctx context.Context, b storage.Backend) (storage.UserID, error) {
		return b.ValidateUser(ctx, user, password)
	})
}

func (g *Gate) DelUser(ctx context.Context, user storage.UserID) error {
	return exec(ctx, g, "DelUser", func(ctx context.Context, b storage.Backend) error {
		return b.DelUser(ctx, user)
	})
}

func (g *Gate) SetUserSetting(ctx context.Context, user storage.UserID, name string, data any) error {
	return exec(ctx, g, "SetUserSetting", func(ctx context.Context, b storage.Backend) error {
		return b.SetUserSetting(ctx, user, name, data)
	})
}

func (g *Gate) GetUserSetting(ctx context.Context, user storage.UserID, name string, def any) (any, error) {
	return with(ctx, g, "GetUserSetting", func(ctx context.Context, b storage.Backend) (any, error) {
		return b.GetUserSetting(ctx, user, name, def)
	})
}

func (g *Gate) CreateNetwork(ctx context.Context, user storage.UserID, info storage.NetworkInfo) (storage.NetworkID, error) {
	return with(ctx, g, "CreateNetwork", func(ctx context.Context, b storage.Backend) (storage.NetworkID, error) {
		return b.CreateNetwork(ctx, user, info)
	})
}

func (g *Gate) UpdateNetwork(ctx context.Context, user storage.UserID, info storage.NetworkInfo) error {
	return exec(ctx, g, "UpdateNetwork", func(ctx context.Context, b storage.Backend) error {
		return b.UpdateNetwork(ctx, user, info)
	})
}

func (g *Gate) RemoveNetwork(ctx context.Context, user storage.UserID, network storage.NetworkID) error {
	return exec(ctx, g, "RemoveNetwork", func(ctx context.Context, b storage.Backend) error {
		return b.RemoveNetwork(ctx, user, network)
	})
}

func (g *Gate) Networks(ctx context.Context, user storage.UserID) ([]storage.NetworkInfo, error) {
	return with(ctx, g, "Networks", func(ctx context.Context, b storage.Backend) ([]storage.NetworkInfo, error) {
		return b.Networks(ctx, user)
	})
}

func (g *Gate) NetworkID(ctx context.Context, user storage.UserID, name string) (storage.NetworkID, error) {
	return with(ctx, g, "NetworkID", func(ctx context.Context, b storage.Backend) (storage.NetworkID, error) {
		return b.NetworkID(ctx, user, name)
	})
}

func (g *Gate) ConnectedNetworks(ctx context.Context, user storage.UserID) ([]storage.NetworkID, error) {
	return with(ctx, g, "ConnectedNetworks", func(ctx context.Context, b storage.Backend) ([]storage.NetworkID, error) {
		return b.ConnectedNetworks(ctx, user)
	})
}

func (g *Gate) SetNetworkConnected(ctx context.Context, user storage.UserID, network storage.NetworkID, connected bool) error {
	return exec(ctx, g, "SetNetworkConnected", func(ctx context.Context, b storage.Backend) error {
		return b.SetNetworkConnected(ctx, user, network, connected)
	})
}

func (g *Gate) PersistentChannels(ctx context.Context, user storage.UserID, network storage.NetworkID) (map[string]string, error) {
	return with(ctx, g, "PersistentChannels", func(ctx context.Context, b storage.Backend) (map[string]string, error) {
		return b.PersistentChannels(ctx, user, network)
	})
}

func (g *Gate) SetChannelPersistent(ctx context.Context, user storage.UserID, network storage.NetworkID, channel string, joined bool) error {
	return exec(ctx, g, "SetChannelPersistent", func(ctx context.Context, b storage.Backend) error {
		return b.SetChannelPersistent(ctx, user, network, channel, joined)
	})
}

func (g *Gate) SetPersistentChannelKey(ctx context.Context, user storage.UserID, network storage.NetworkID, channel, key string) error {
	return exec(ctx, g, "SetPersistentChannelKey", func(ctx context.Context, b storage.Backend) error {
		return b.SetPersistentChannelKey(ctx, user, network, channel, key)
	})
}

func (g *Gate) BufferInfo(ctx context.Context, user storage.UserID, network storage.NetworkID, bufType storage.BufferType, name string) (storage.BufferInfo, error) {
	return with(ctx, g, "BufferInfo", func(ctx context.Context, b storage.Backend) (storage.BufferInfo, error) {
		return b.BufferInfo(ctx, user, network, bufType, name)
	})
}

func (g *Gate) GetBufferInfo(ctx context.Context, user storage.UserID, buffer storage.BufferID) (storage.BufferInfo, error) {
	return with(ctx, g, "GetBufferInfo", func(ctx context.Context, b storage.Backend) (storage.BufferInfo, error) {
		return b.GetBufferInfo(ctx, user, buffer)
	})
}

func (g *Gate) RequestBuffers(ctx context.Context, user storage.UserID) ([]storage.BufferInfo, error) {
	return with(ctx, g, "RequestBuffers", func(ctx context.Context, b storage.Backend) ([]storage.BufferInfo, error) {
		return b.RequestBuffers(ctx, user)
	})
}

func (g *Gate) RequestBufferIDsForNetwork(ctx context.Context, user storage.UserID, network storage.NetworkID) ([]storage.BufferID, error) {
	return with(ctx, g, "RequestBufferIDsForNetwork", func(ctx context.Context, b storage.Backend) ([]storage.BufferID, error) {
		return b.RequestBufferIDsForNetwork(ctx, user, network)
	})
}

func (g *Gate) RemoveBuffer(ctx context.Context, user storage.UserID, buffer storage.BufferID) error {
	return exec(ctx, g, "RemoveBuffer", func(ctx context.Context, b storage.Backend) error {
		return b.RemoveBuffer(ctx, user, buffer)
	})
}

func (g *Gate) RenameBuffer(ctx context.Context, user storage.UserID, network storage.NetworkID, newName, oldName string) (storage.BufferID, error) {
	return with(ctx, g, "RenameBuffer", func(ctx context.Context, b storage.Backend) (storage.BufferID, error) {
		return b.RenameBuffer(ctx, user, network, newName, oldName)
	})
}

func (g *Gate) SetBufferLastSeenMsg(ctx context.Context, user storage.UserID, buffer storage.BufferID, msg storage.MsgID) error {
	return exec(ctx, g, "SetBufferLastSeenMsg", func(ctx context.Context, b storage.Backend) error {
		return b.SetBufferLastSeenMsg(ctx, user, buffer, msg)
	})
}

func (g *Gate) BufferLastSeenMsgIDs(ctx context.Context, user storage.UserID) (map[storage.BufferID]storage.MsgID, error) {
	return with(ctx, g, "BufferLastSeenMsgIDs", func(ctx context.Context, b storage.Backend) (map[storage.BufferID]storage.MsgID, error) {
		return b.BufferLastSeenMsgIDs(ctx, user)
	})
}

func (g *Gate) LogMessage(ctx context.Context, user storage.UserID, msg storage.Message) (storage.MsgID, error) {
	return with(ctx, g, "LogMessage", func(ctx context.Context, b storage.Backend) (storage.MsgID, error) {
		return b.LogMessage(ctx, user, msg)
	})
}

func (g *Gate) RequestMsgs(ctx context.Context, user storage.UserID, buffer storage.BufferID, last int, offset storage.MsgID) ([]storage.Message, error) {
	return with(ctx, g, "RequestMsgs", func(ctx context.Context, b storage.Backend) ([]storage.Message, error) {
		return b.RequestMsgs(ctx, user, buffer, last, offset)
	})
}

func (g *Gate) RequestMsgsSince(ctx context.Context, user storage.UserID, buffer storage.BufferID, since time.Time, offset storage.MsgID) ([]storage.Message, error) {
	return with(ctx, g, "RequestMsgsSince", func(ctx context.Context, b storage.Backend) ([]storage.Message, error) {
		return b.RequestMsgsSince(ctx, user, buffer, since, offset)
	})
}

func (g *Gate) RequestMsgRange(ctx context.Context, user storage.UserID, buffer storage.BufferID, first, last storage.MsgID) ([]storage.Message, error) {
	return with(ctx, g, "RequestMsgRange", func(ctx context.Context, b storage.Backend) ([]storage.Message, error) {
		return b.RequestMsgRange(ctx, user, buffer, first, last)
	})
}
