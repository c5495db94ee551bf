package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"relay-service/internal/models"
	"relay-service/internal/repositories/postgres"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "relay.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Message{}))
	return db
}

func newTestRouter(t *testing.T) (*Router, *Registry, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	registry := NewRegistry()
	router := NewRouter(registry, postgres.NewMessageRepository(db), nil, 50)
	return router, registry, db
}

// recvFrame pops the next queued outbound frame. Handle dispatches
// synchronously, so everything the router sent is already buffered.
func recvFrame(t *testing.T, conn *Conn) map[string]interface{} {
	t.Helper()
	select {
	case payload := <-conn.send:
		var frame map[string]interface{}
		require.NoError(t, json.Unmarshal(payload, &frame))
		return frame
	default:
		t.Fatal("expected a queued frame")
		return nil
	}
}

func drainFrames(t *testing.T, conn *Conn) []map[string]interface{} {
	t.Helper()
	var frames []map[string]interface{}
	for {
		select {
		case payload := <-conn.send:
			var frame map[string]interface{}
			require.NoError(t, json.Unmarshal(payload, &frame))
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func identify(router *Router, conn *Conn, username, userID string) {
	payload := fmt.Sprintf(`{"type":"identify","username":%q,"userId":%q}`, username, userID)
	router.Handle(conn, []byte(payload))
}

func TestRouterPingRepliesPongToSenderOnly(t *testing.T) {
	router, registry, _ := newTestRouter(t)
	sender := newTestConn()
	other := newTestConn()
	registry.Add(sender)
	registry.Add(other)

	router.Handle(sender, []byte(`{"type":"ping","sentAt":1000}`))

	pong := recvFrame(t, sender)
	assert.Equal(t, "pong", pong["type"])
	assert.Equal(t, float64(1000), pong["sentAt"])
	assert.NotZero(t, pong["timestamp"])
	assert.Empty(t, drainFrames(t, other))
}

func TestRouterIdentifyBroadcastsPresence(t *testing.T) {
	router, registry, _ := newTestRouter(t)
	alice := newTestConn()
	anonymous := newTestConn()
	registry.Add(alice)
	registry.Add(anonymous)

	identify(router, alice, "alice", "u1")

	for _, conn := range []*Conn{alice, anonymous} {
		frames := drainFrames(t, conn)
		require.Len(t, frames, 1)
		assert.Equal(t, "participants", frames[0]["type"])
		users := frames[0]["users"].([]interface{})
		require.Len(t, users, 1)
		assert.Equal(t, "alice", users[0].(map[string]interface{})["username"])
	}
}

func TestRouterBroadcastMessageReachesEveryoneVerbatim(t *testing.T) {
	router, registry, db := newTestRouter(t)
	sender := newTestConn()
	peer := newTestConn()
	anonymous := newTestConn()
	registry.Add(sender)
	registry.Add(peer)
	registry.Add(anonymous)
	identify(router, sender, "alice", "u1")
	drainFrames(t, sender)
	drainFrames(t, peer)
	drainFrames(t, anonymous)

	raw := `{"id":"m1","text":"hello all","username":"alice","timestamp":42,"edited":false,"seen":false,"extra":"kept"}`
	router.Handle(sender, []byte(raw))

	for _, conn := range []*Conn{sender, peer, anonymous} {
		frames := drainFrames(t, conn)
		require.Len(t, frames, 1)
		assert.Equal(t, "m1", frames[0]["id"])
		// verbatim relay keeps fields the router does not model
		assert.Equal(t, "kept", frames[0]["extra"])
	}

	// broadcast scope skips persistence
	var count int64
	require.NoError(t, db.Model(&models.Message{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRouterDirectMessageRoutesAndPersists(t *testing.T) {
	router, registry, db := newTestRouter(t)
	alice := newTestConn()
	bob := newTestConn()
	carol := newTestConn()
	registry.Add(alice)
	registry.Add(bob)
	registry.Add(carol)
	identify(router, alice, "alice", "u1")
	identify(router, bob, "bob", "u2")
	identify(router, carol, "carol", "u3")
	drainFrames(t, alice)
	drainFrames(t, bob)
	drainFrames(t, carol)

	raw := `{"id":"m1","text":"psst","username":"alice","timestamp":42,"participantId":"u2"}`
	router.Handle(alice, []byte(raw))

	echo := recvFrame(t, alice)
	assert.Equal(t, "m1", echo["id"])
	assert.Equal(t, "u2", echo["participantId"])

	delivered := recvFrame(t, bob)
	assert.Equal(t, "m1", delivered["id"])
	assert.Equal(t, "u1", delivered["participantId"])
	assert.Empty(t, drainFrames(t, carol))

	var row models.Message
	require.NoError(t, db.First(&row, "id = ?", "m1").Error)
	assert.Equal(t, "u1", row.SenderID)
	require.NotNil(t, row.RecipientID)
	assert.Equal(t, "u2", *row.RecipientID)
}

func TestRouterDirectMessageRecipientCopyScopedToSender(t *testing.T) {
	router, registry, _ := newTestRouter(t)
	alice := newTestConn()
	bob := newTestConn()
	registry.Add(alice)
	registry.Add(bob)
	identify(router, alice, "alice", "u1")
	identify(router, bob, "bob", "u2")
	drainFrames(t, alice)
	drainFrames(t, bob)

	router.Handle(alice, []byte(`{"id":"m2","text":"hi","username":"alice","participantId":"u2"}`))

	drainFrames(t, alice)
	delivered := recvFrame(t, bob)
	assert.Equal(t, "u1", delivered["participantId"])
}

func TestRouterDirectMessageOfflineRecipientDefersToReplay(t *testing.T) {
	router, registry, _ := newTestRouter(t)
	alice := newTestConn()
	registry.Add(alice)
	identify(router, alice, "alice", "u1")
	drainFrames(t, alice)

	router.Handle(alice, []byte(`{"id":"m1","text":"catch up later","username":"alice","timestamp":7,"participantId":"u2"}`))
	drainFrames(t, alice)

	// recipient connects afterwards and identifies
	bob := newTestConn()
	registry.Add(bob)
	identify(router, bob, "bob", "u2")

	frames := drainFrames(t, bob)
	var replayed []map[string]interface{}
	for _, frame := range frames {
		if frame["replay"] == true {
			replayed = append(replayed, frame)
		}
	}
	require.Len(t, replayed, 1)
	assert.Equal(t, "m1", replayed[0]["id"])
	assert.Equal(t, "u1", replayed[0]["participantId"])
	assert.Equal(t, "catch up later", replayed[0]["text"])
}

func TestRouterDuplicateMessageIDPersistsOnce(t *testing.T) {
	router, registry, db := newTestRouter(t)
	alice := newTestConn()
	registry.Add(alice)
	identify(router, alice, "alice", "u1")

	raw := `{"id":"m1","text":"once","username":"alice","participantId":"u2"}`
	router.Handle(alice, []byte(raw))
	router.Handle(alice, []byte(raw))

	var count int64
	require.NoError(t, db.Model(&models.Message{}).Where("id = ?", "m1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRouterMutationsBroadcastToAll(t *testing.T) {
	router, registry, db := newTestRouter(t)
	alice := newTestConn()
	bob := newTestConn()
	registry.Add(alice)
	registry.Add(bob)
	identify(router, alice, "alice", "u1")
	identify(router, bob, "bob", "u2")
	router.Handle(alice, []byte(`{"id":"m1","text":"orig","username":"alice","participantId":"u2"}`))
	drainFrames(t, alice)
	drainFrames(t, bob)

	router.Handle(alice, []byte(`{"type":"edit","id":"m1","text":"fixed","timestamp":99}`))
	router.Handle(bob, []byte(`{"type":"seen","id":"m1"}`))
	router.Handle(alice, []byte(`{"type":"delete","id":"m1"}`))

	for _, conn := range []*Conn{alice, bob} {
		frames := drainFrames(t, conn)
		require.Len(t, frames, 3)
		assert.Equal(t, "edit", frames[0]["type"])
		assert.Equal(t, "seen", frames[1]["type"])
		assert.Equal(t, "delete", frames[2]["type"])
	}

	// edit and seen reach the stored row; delete retains it
	var row models.Message
	require.NoError(t, db.First(&row, "id = ?", "m1").Error)
	assert.Equal(t, "fixed", row.Text)
	assert.True(t, row.Edited)
	assert.True(t, row.Seen)
	assert.Equal(t, int64(99), row.Timestamp)
}

func TestRouterMutationForUnknownIDStillBroadcasts(t *testing.T) {
	router, registry, _ := newTestRouter(t)
	alice := newTestConn()
	registry.Add(alice)

	router.Handle(alice, []byte(`{"type":"seen","id":"ghost"}`))

	frame := recvFrame(t, alice)
	assert.Equal(t, "seen", frame["type"])
}

func TestRouterDropsMalformedFramesWithoutDisconnect(t *testing.T) {
	router, registry, _ := newTestRouter(t)
	alice := newTestConn()
	registry.Add(alice)

	router.Handle(alice, []byte(`{not json`))
	router.Handle(alice, []byte(`{"type":"wat"}`))

	assert.Empty(t, drainFrames(t, alice))
	// the connection is still tracked and reachable
	assert.Len(t, registry.Connections(), 1)
	router.Handle(alice, []byte(`{"type":"ping","sentAt":1}`))
	assert.Equal(t, "pong", recvFrame(t, alice)["type"])
}

func TestRouterDisconnectAnnouncesLeaveAndRebuildsPresence(t *testing.T) {
	router, registry, _ := newTestRouter(t)
	alice := newTestConn()
	bob := newTestConn()
	registry.Add(alice)
	registry.Add(bob)
	identify(router, alice, "alice", "u1")
	identify(router, bob, "bob", "u2")
	drainFrames(t, alice)
	drainFrames(t, bob)

	router.Disconnect(alice)

	frames := drainFrames(t, bob)
	require.Len(t, frames, 2)
	assert.Equal(t, "status", frames[0]["type"])
	assert.Equal(t, "alice left the chat", frames[0]["text"])
	assert.Equal(t, "System", frames[0]["username"])
	assert.Equal(t, "participants", frames[1]["type"])
	assert.Len(t, frames[1]["users"], 1)

	// Disconnect of an unidentified connection announces nothing
	anonymous := newTestConn()
	registry.Add(anonymous)
	router.Disconnect(anonymous)
	assert.Empty(t, drainFrames(t, bob))
}

func TestRouterReplayWindow(t *testing.T) {
	router, registry, db := newTestRouter(t)
	repo := postgres.NewMessageRepository(db)
	ctx := context.Background()

	other := "u9"
	me := "u1"
	seed := []*models.Message{
		{ID: "a", SenderID: me, SenderUsername: "alice", RecipientID: &other, Text: "first", Type: models.MessageTypeMessage, Timestamp: 100},
		{ID: "b", SenderID: other, SenderUsername: "ines", RecipientID: &me, Text: "reply", Type: models.MessageTypeMessage, Timestamp: 200},
		{ID: "c", SenderID: me, SenderUsername: "alice", RecipientID: &other, Text: "second", Type: models.MessageTypeMessage, Timestamp: 300},
		// unrelated conversation, must not replay
		{ID: "d", SenderID: "u5", SenderUsername: "eve", RecipientID: &other, Text: "noise", Type: models.MessageTypeMessage, Timestamp: 150},
	}
	for _, row := range seed {
		require.NoError(t, repo.Save(ctx, row))
	}

	conn := newTestConn()
	registry.Add(conn)
	identify(router, conn, "alice", me)

	frames := drainFrames(t, conn)
	var replayed []map[string]interface{}
	for _, frame := range frames {
		if frame["replay"] == true {
			replayed = append(replayed, frame)
		}
	}
	require.Len(t, replayed, 3)

	// ascending by timestamp, participantId always the counterpart
	assert.Equal(t, "a", replayed[0]["id"])
	assert.Equal(t, "b", replayed[1]["id"])
	assert.Equal(t, "c", replayed[2]["id"])
	assert.Equal(t, other, replayed[0]["participantId"])
	assert.Equal(t, other, replayed[1]["participantId"])
	assert.Equal(t, other, replayed[2]["participantId"])
	assert.Equal(t, "ines", replayed[1]["username"])
}

func TestRouterReplayHonorsWindowLimit(t *testing.T) {
	db := newTestDB(t)
	registry := NewRegistry()
	router := NewRouter(registry, postgres.NewMessageRepository(db), nil, 2)
	repo := postgres.NewMessageRepository(db)

	other := "u9"
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Save(context.Background(), &models.Message{
			ID: fmt.Sprintf("m%d", i), SenderID: "u1", SenderUsername: "alice",
			RecipientID: &other, Text: "msg", Type: models.MessageTypeMessage,
			Timestamp: int64(100 + i),
		}))
	}

	conn := newTestConn()
	registry.Add(conn)
	identify(router, conn, "alice", "u1")

	var replayed int
	for _, frame := range drainFrames(t, conn) {
		if frame["replay"] == true {
			replayed++
		}
	}
	assert.Equal(t, 2, replayed)
}

func TestMessageRepositorySeenAt(t *testing.T) {
	db := newTestDB(t)
	repo := postgres.NewMessageRepository(db)
	ctx := context.Background()

	other := "u2"
	require.NoError(t, repo.Save(ctx, &models.Message{
		ID: "m1", SenderID: "u1", SenderUsername: "alice", RecipientID: &other,
		Text: "hi", Type: models.MessageTypeMessage, Timestamp: 1,
	}))

	seenAt := time.Now()
	require.NoError(t, repo.MarkSeen(ctx, "m1", seenAt))

	var row models.Message
	require.NoError(t, db.First(&row, "id = ?", "m1").Error)
	assert.True(t, row.Seen)
	require.NotNil(t, row.SeenAt)
}
