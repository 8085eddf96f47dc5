//go:build integration

package persistence_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittochat/pkg/storage"
	"github.com/marmos91/dittochat/pkg/storage/badger"
	"github.com/marmos91/dittochat/pkg/storage/sqlite"
)

// TestBackendPersistence_Integration verifies that the on-disk backends keep
// users, networks, buffers and backlog across a close and reopen.
//
// Prerequisites:
//   - None (both backends are embedded, no external services needed)
//   - Run with: go test -tags=integration ./test/integration/...
func TestBackendPersistence_Integration(t *testing.T) {
	storage.PasswordCost = 4

	backends := []struct {
		name string
		open func(dir string) storage.Backend
	}{
		{
			name: sqlite.DisplayName,
			open: func(dir string) storage.Backend { return sqlite.NewSQLiteStore(filepath.Join(dir, "chat.sqlite")) },
		},
		{
			name: badger.DisplayName,
			open: func(dir string) storage.Backend { return badger.NewBadgerStore(filepath.Join(dir, "badger")) },
		},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			runPersistence(t, b.name, b.open)
		})
	}
}

func runPersistence(t *testing.T, name string, open func(dir string) storage.Backend) {
	ctx := context.Background()
	dir := t.TempDir()
	settings := map[string]any{storage.BackendKey: name}

	var (
		user    storage.UserID
		network storage.NetworkID
		buffer  storage.BufferInfo
		msgID   storage.MsgID
	)

	// ========================================================================
	// Phase 1: set up a fresh store, add data, close
	// ========================================================================

	{
		store := open(dir)
		if err := store.Init(ctx, settings); err == nil {
			t.Fatal("Init on an empty directory should report the store is not set up")
		}
		if err := store.Setup(ctx, settings); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
		if err := store.Init(ctx, settings); err != nil {
			t.Fatalf("Init after setup failed: %v", err)
		}

		var err error
		user, err = store.AddUser(ctx, "admin", "hunter2")
		if err != nil {
			t.Fatalf("AddUser failed: %v", err)
		}

		network, err = store.CreateNetwork(ctx, user, storage.NetworkInfo{
			NetworkName: "libera",
			ServerList:  []storage.ServerEntry{{Host: "irc.libera.chat", Port: 6697, UseSSL: true}},
		})
		if err != nil {
			t.Fatalf("CreateNetwork failed: %v", err)
		}
		if err := store.SetNetworkConnected(ctx, user, network, true); err != nil {
			t.Fatalf("SetNetworkConnected failed: %v", err)
		}

		buffer, err = store.BufferInfo(ctx, user, network, storage.ChannelBuffer, "#go-nuts")
		if err != nil {
			t.Fatalf("BufferInfo failed: %v", err)
		}

		msgID, err = store.LogMessage(ctx, user, storage.Message{
			Timestamp:  time.Now().Truncate(time.Second),
			BufferInfo: buffer,
			Type:       storage.PlainMessage,
			Sender:     "gopher!~g@example.org",
			Contents:   "hello",
		})
		if err != nil {
			t.Fatalf("LogMessage failed: %v", err)
		}

		if err := store.Sync(ctx); err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	// ========================================================================
	// Phase 2: reopen and verify every record survived
	// ========================================================================

	store := open(dir)
	defer store.Close()

	if err := store.Init(ctx, settings); err != nil {
		t.Fatalf("Init on reopen failed: %v", err)
	}

	got, err := store.ValidateUser(ctx, "admin", "hunter2")
	if err != nil {
		t.Fatalf("ValidateUser after reopen failed: %v", err)
	}
	if got != user {
		t.Errorf("Expected user %d, got %d", user, got)
	}

	networks, err := store.Networks(ctx, user)
	if err != nil {
		t.Fatalf("Networks failed: %v", err)
	}
	if len(networks) != 1 || networks[0].NetworkName != "libera" {
		t.Fatalf("Expected network libera, got %+v", networks)
	}
	if len(networks[0].ServerList) != 1 || networks[0].ServerList[0].Port != 6697 {
		t.Errorf("Server list not preserved: %+v", networks[0].ServerList)
	}

	connected, err := store.ConnectedNetworks(ctx, user)
	if err != nil {
		t.Fatalf("ConnectedNetworks failed: %v", err)
	}
	if len(connected) != 1 || connected[0] != network {
		t.Errorf("Expected connected network %d, got %v", network, connected)
	}

	buffers, err := store.RequestBuffers(ctx, user)
	if err != nil {
		t.Fatalf("RequestBuffers failed: %v", err)
	}
	if len(buffers) != 1 || buffers[0].BufferID != buffer.BufferID {
		t.Errorf("Expected buffer %d, got %+v", buffer.BufferID, buffers)
	}

	msgs, err := store.RequestMsgs(ctx, user, buffer.BufferID, 10, 0)
	if err != nil {
		t.Fatalf("RequestMsgs failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MsgID != msgID || msgs[0].Contents != "hello" {
		t.Errorf("Expected message %d, got %+v", msgID, msgs)
	}
}
