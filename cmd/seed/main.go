package main

import (
	"context"
	"log"
	"log/slog"
	"time"

	"relay-service/internal/config"
	"relay-service/internal/database"
	"relay-service/internal/models"
	"relay-service/internal/repositories/postgres"

	"github.com/google/uuid"
)

// Seeds a small two-way conversation so a freshly started stack has
// history to replay.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	db, err := database.NewPostgresConnection(cfg.DB.DSN())
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL:", err)
	}
	repo := postgres.NewMessageRepository(db)

	alice := "11111111-1111-1111-1111-111111111111"
	bob := "22222222-2222-2222-2222-222222222222"

	now := time.Now().UnixMilli()
	rows := []*models.Message{
		{ID: uuid.NewString(), SenderID: alice, SenderUsername: "alice", RecipientID: &bob,
			Text: "hey, are you around?", Type: models.MessageTypeMessage, Timestamp: now - 3*60_000},
		{ID: uuid.NewString(), SenderID: bob, SenderUsername: "bob", RecipientID: &alice,
			Text: "yep, what's up?", Type: models.MessageTypeMessage, Seen: true, Timestamp: now - 2*60_000},
		{ID: uuid.NewString(), SenderID: alice, SenderUsername: "alice", RecipientID: &bob,
			Text: "standup moved to 10:30", Type: models.MessageTypeMessage, Timestamp: now - 60_000},
	}

	ctx := context.Background()
	for _, row := range rows {
		if err := repo.Save(ctx, row); err != nil {
			log.Fatal("Failed to seed message:", err)
		}
	}

	slog.Info("Seeded conversation", "messages", len(rows), "alice", alice, "bob", bob)
}
