package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"relay-service/internal/database"
)

// PresenceService mirrors the live presence state into Redis so the roster
// REST service can answer "who is online" without reaching into the relay.
// The in-memory registry stays the source of truth; this is a best-effort
// write-through.
type PresenceService struct {
	client *database.RedisClient
}

func NewPresenceService(client *database.RedisClient) *PresenceService {
	return &PresenceService{client: client}
}

func (p *PresenceService) SetUserOnline(ctx context.Context, userID string) error {
	pipe := p.client.GetClient().Pipeline()

	pipe.SAdd(ctx, "online_users", userID)
	pipe.HSet(ctx, fmt.Sprintf("user:%s:status", userID), map[string]interface{}{
		"status":     "online",
		"last_seen":  time.Now().Unix(),
		"updated_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, fmt.Sprintf("user:%s:status", userID), 5*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("Failed to set user online", "userID", userID, "error", err)
		return err
	}
	return nil
}

func (p *PresenceService) SetUserOffline(ctx context.Context, userID string) error {
	pipe := p.client.GetClient().Pipeline()

	pipe.SRem(ctx, "online_users", userID)
	pipe.HSet(ctx, fmt.Sprintf("user:%s:status", userID), map[string]interface{}{
		"status":     "offline",
		"last_seen":  time.Now().Unix(),
		"updated_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, fmt.Sprintf("user:%s:status", userID), 24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("Failed to set user offline", "userID", userID, "error", err)
		return err
	}
	return nil
}

func (p *PresenceService) GetOnlineUsers(ctx context.Context) ([]string, error) {
	return p.client.GetClient().SMembers(ctx, "online_users").Result()
}
