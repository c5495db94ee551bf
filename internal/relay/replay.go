package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// replay streams the identifying user's persisted history back to the new
// connection only: every stored message the user sent or received, oldest
// first, capped at the configured window. The counterpart id is derived
// per row so the client can rebuild per-conversation scoping without the
// server keeping conversation indices. A replayed message can race a live
// copy of itself in the same session; the client store's idempotent append
// absorbs that.
func (r *Router) replay(conn *Conn, userID string) {
	if r.messages == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	history, err := r.messages.HistoryForUser(ctx, userID, r.historyLimit)
	if err != nil {
		slog.Error("Failed to load history", "userID", userID, "error", err)
		return
	}

	for _, msg := range history {
		participantID := msg.SenderID
		if msg.SenderID == userID && msg.RecipientID != nil {
			participantID = *msg.RecipientID
		}

		frame := historyFrame{
			Message:       *msg,
			Username:      msg.SenderUsername,
			ParticipantID: participantID,
			Replay:        true,
		}
		payload, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		conn.enqueue(payload)
	}

	slog.Debug("History replayed", "userID", userID, "count", len(history))
}
