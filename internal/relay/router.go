package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"relay-service/internal/models"
	"relay-service/internal/repositories/postgres"
	"relay-service/internal/services"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

const defaultHistoryLimit = 50

// Router classifies inbound frames and dispatches their effects: ping
// replies, identity binding with history replay, broadcast and direct
// routing, and mutation fan-out. Persistence and live delivery are not
// transactional together: a persist failure is logged and the relay
// proceeds, and a missed live unicast is recovered by replay only.
type Router struct {
	registry     *Registry
	messages     postgres.MessageRepository
	presence     *services.PresenceService
	producer     sarama.SyncProducer
	topic        string
	historyLimit int
}

func NewRouter(registry *Registry, messages postgres.MessageRepository, presence *services.PresenceService, historyLimit int) *Router {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Router{
		registry:     registry,
		messages:     messages,
		presence:     presence,
		historyLimit: historyLimit,
	}
}

// SetEventProducer enables the Kafka event feed for persisted messages.
func (r *Router) SetEventProducer(producer sarama.SyncProducer, topic string) {
	r.producer = producer
	r.topic = topic
}

// Handle processes one inbound frame from a connection. Malformed or
// unrecognized frames are logged and dropped; the connection stays open.
func (r *Router) Handle(conn *Conn, data []byte) {
	kind, frame, err := DecodeFrame(data)
	if err != nil {
		slog.Warn("Dropping frame", "connID", conn.ID(), "error", err)
		return
	}

	switch kind {
	case KindPing:
		r.handlePing(conn, frame)
	case KindPong, KindParticipants:
		// server-originated kinds, nothing to do inbound
	case KindIdentify:
		r.handleIdentify(conn, frame)
	case KindMessage:
		r.handleMessage(conn, frame, data)
	case KindEdit:
		r.handleEdit(frame, data)
	case KindSeen:
		r.handleSeen(frame, data)
	case KindDelete:
		r.handleDelete(frame, data)
	case KindStatus:
		r.broadcast(data)
	}
}

// Disconnect releases a connection's registry entry and, if it was
// identified, announces the departure and rebuilds the presence snapshot.
func (r *Router) Disconnect(conn *Conn) {
	identity, identified := r.registry.Unregister(conn)
	if !identified {
		return
	}

	slog.Info("Client disconnected", "connID", conn.ID(), "username", identity.Username)

	leave := statusFrame{
		Type:      KindStatus.String(),
		Text:      fmt.Sprintf("%s left the chat", identity.Username),
		Username:  "System",
		Timestamp: time.Now().UnixMilli(),
	}
	if payload, err := json.Marshal(leave); err == nil {
		r.broadcast(payload)
	}
	r.broadcastPresence()

	if identity.UserID != "" && len(r.registry.FindByUserID(identity.UserID)) == 0 {
		r.setOffline(identity.UserID)
	}
}

func (r *Router) handlePing(conn *Conn, frame *Frame) {
	pong := pongFrame{
		Type:      KindPong.String(),
		SentAt:    frame.SentAt,
		Timestamp: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(pong)
	if err != nil {
		return
	}
	conn.enqueue(payload)
}

func (r *Router) handleIdentify(conn *Conn, frame *Frame) {
	r.registry.Register(conn, models.Identity{
		UserID:   frame.UserID,
		Username: frame.Username,
	})
	slog.Info("Client identified", "connID", conn.ID(), "username", frame.Username, "userID", frame.UserID)

	if frame.UserID != "" {
		r.replay(conn, frame.UserID)
		r.setOnline(frame.UserID)
	}
	r.broadcastPresence()
}

func (r *Router) handleMessage(conn *Conn, frame *Frame, raw []byte) {
	if frame.ParticipantID == "" {
		// Broadcast scope: no persistence, everyone gets the frame
		// verbatim, sender included. The sender's optimistic copy is
		// overwritten by this canonical echo via idempotent append.
		r.broadcast(raw)
		return
	}
	r.routeDirect(conn, frame, raw)
}

func (r *Router) routeDirect(conn *Conn, frame *Frame, raw []byte) {
	senderID := frame.UserID
	if identity, ok := r.registry.Identity(conn); ok && identity.UserID != "" {
		senderID = identity.UserID
	}

	if senderID == "" {
		slog.Warn("Direct message from unidentified connection, persist skipped", "connID", conn.ID())
	} else {
		r.persist(frame, senderID)
	}

	// Delivery confirmation back to the sender, scoped to the recipient.
	if payload, err := stampParticipant(raw, frame.ParticipantID); err == nil {
		conn.enqueue(payload)
	}

	// The recipient sees the conversation scoped to the sender. An offline
	// recipient is not an error: replay covers it at the next identify.
	targets := r.registry.FindByUserID(frame.ParticipantID)
	if len(targets) == 0 {
		slog.Debug("Recipient offline, deferring to replay", "recipientID", frame.ParticipantID)
		return
	}
	payload, err := stampParticipant(raw, senderID)
	if err != nil {
		return
	}
	for _, target := range targets {
		if target == conn {
			continue
		}
		target.enqueue(payload)
	}
}

func (r *Router) persist(frame *Frame, senderID string) {
	if r.messages == nil {
		return
	}

	id := frame.ID
	if id == "" {
		id = uuid.NewString()
	}
	timestamp := frame.Timestamp
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}
	recipientID := frame.ParticipantID
	msg := &models.Message{
		ID:             id,
		SenderID:       senderID,
		SenderUsername: frame.Username,
		RecipientID:    &recipientID,
		Text:           frame.Text,
		Type:           models.MessageTypeMessage,
		Timestamp:      timestamp,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.messages.Save(ctx, msg); err != nil {
		slog.Error("Failed to persist message", "id", id, "error", err)
		return
	}
	r.publishEvent(msg)
}

func (r *Router) publishEvent(msg *models.Message) {
	if r.producer == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_, _, err = r.producer.SendMessage(&sarama.ProducerMessage{
		Topic: r.topic,
		Key:   sarama.StringEncoder(msg.SenderID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		slog.Error("Failed to publish message event", "id", msg.ID, "error", err)
	}
}

func (r *Router) handleEdit(frame *Frame, raw []byte) {
	if r.messages != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.messages.ApplyEdit(ctx, frame.ID, frame.Text, frame.Timestamp); err != nil {
			slog.Error("Failed to persist edit", "id", frame.ID, "error", err)
		}
	}
	r.broadcast(raw)
}

func (r *Router) handleSeen(frame *Frame, raw []byte) {
	if r.messages != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.messages.MarkSeen(ctx, frame.ID, time.Now()); err != nil {
			slog.Error("Failed to persist seen flag", "id", frame.ID, "error", err)
		}
	}
	r.broadcast(raw)
}

func (r *Router) handleDelete(frame *Frame, raw []byte) {
	// Persisted rows are retained; delete only removes the message from
	// live client logs.
	r.broadcast(raw)
}

func (r *Router) broadcast(payload []byte) {
	for _, conn := range r.registry.Connections() {
		conn.enqueue(payload)
	}
}

func (r *Router) broadcastPresence() {
	snapshot := participantsFrame{
		Type:  KindParticipants.String(),
		Users: r.registry.Snapshot(),
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	r.broadcast(payload)
}

func (r *Router) setOnline(userID string) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	r.presence.SetUserOnline(ctx, userID)
}

func (r *Router) setOffline(userID string) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	r.presence.SetUserOffline(ctx, userID)
}

// stampParticipant rewrites the participantId of a raw message frame while
// leaving every other field untouched.
func stampParticipant(raw []byte, participantID string) ([]byte, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["participantId"] = participantID
	return json.Marshal(fields)
}
