package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval   = 2 * time.Second
	defaultReconnectDelay = 2 * time.Second
	writeWait             = 10 * time.Second
)

var ErrNotConnected = errors.New("session not connected")

// State is the session lifecycle position.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentifying
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdentifying:
		return "identifying"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// Participant is one entry of the server's presence snapshot.
type Participant struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	JoinedAt int64  `json:"joinedAt"`
}

type Config struct {
	URL      string
	Username string
	UserID   string

	// PingInterval is the fixed latency-ping period while open.
	PingInterval time.Duration

	// ReconnectDelay is the fixed delay before redialing after an
	// unintentional close. No backoff, no jitter.
	ReconnectDelay time.Duration

	Dialer *websocket.Dialer

	// OnMessage fires once per message newly appended to the log,
	// replayed history included.
	OnMessage func(Message)

	// OnParticipants fires on every presence snapshot replacement.
	OnParticipants func([]Participant)
}

// Session owns one logical connection to the relay: the socket, the ping
// ticker, the reconnect timer, and the message log. Teardown is Close,
// which releases all of them exactly once on every exit path; no timer or
// reconnect fires after Close returns control.
type Session struct {
	cfg   Config
	store *Store

	mu           sync.Mutex
	ws           *websocket.Conn
	username     string
	participants []Participant

	state       atomic.Int32
	latencyMs   atomic.Int64
	intentional atomic.Bool
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

func NewSession(cfg Config) *Session {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	s := &Session{
		cfg:      cfg,
		store:    NewStore(),
		username: cfg.Username,
		done:     make(chan struct{}),
	}
	s.latencyMs.Store(-1)
	return s
}

// Start launches the connection manager goroutine.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.run()
}

// Close tears the session down: the intentional-close flag is set first,
// then timers are released, then the socket is closed, in that order.
// Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		s.intentional.Store(true)
		close(s.done)

		s.mu.Lock()
		if s.ws != nil {
			s.ws.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
	s.state.Store(int32(StateDisconnected))
}

func (s *Session) Store() *Store {
	return s.store
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Latency returns the last measured round-trip in milliseconds, or -1
// before the first pong.
func (s *Session) Latency() int64 {
	return s.latencyMs.Load()
}

func (s *Session) Participants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Participant, len(s.participants))
	copy(out, s.participants)
	return out
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) run() {
	defer s.wg.Done()

	for {
		if s.intentional.Load() {
			return
		}

		s.state.Store(int32(StateConnecting))
		ws, _, err := s.cfg.Dialer.Dial(s.cfg.URL, nil)
		if err != nil {
			slog.Debug("Dial failed", "url", s.cfg.URL, "error", err)
			s.state.Store(int32(StateDisconnected))
			if !s.waitReconnect() {
				return
			}
			continue
		}

		s.mu.Lock()
		s.ws = ws
		s.mu.Unlock()

		// Close may have run while the dial was in flight, finding no
		// socket to release. It sets the flag before inspecting the
		// socket, so re-checking here after the store is race-free.
		if s.intentional.Load() {
			ws.Close()
			s.mu.Lock()
			s.ws = nil
			s.mu.Unlock()
			return
		}

		s.state.Store(int32(StateIdentifying))
		s.sendIdentify()
		s.sendSystemStatus(fmt.Sprintf("%s joined the chat", s.Username()))
		s.state.Store(int32(StateOpen))

		stop := make(chan struct{})
		s.wg.Add(1)
		go s.pingLoop(stop)

		s.readLoop(ws)

		close(stop)
		s.latencyMs.Store(-1)
		s.mu.Lock()
		s.ws = nil
		s.mu.Unlock()
		s.state.Store(int32(StateDisconnected))

		if s.intentional.Load() {
			return
		}
		if !s.waitReconnect() {
			return
		}
	}
}

// waitReconnect sleeps for the fixed reconnect delay. Reports false when
// the session was closed while waiting.
func (s *Session) waitReconnect() bool {
	timer := time.NewTimer(s.cfg.ReconnectDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) pingLoop(stop chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.send(map[string]interface{}{
				"type":   "ping",
				"sentAt": time.Now().UnixMilli(),
			})
		case <-stop:
			return
		case <-s.done:
			return
		}
	}
}

func (s *Session) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			slog.Debug("Read failed", "error", err)
			return
		}
		s.handleFrame(data)
	}
}

type inboundFrame struct {
	Type          string        `json:"type"`
	ID            string        `json:"id"`
	Text          string        `json:"text"`
	Username      string        `json:"username"`
	SentAt        int64         `json:"sentAt"`
	Timestamp     int64         `json:"timestamp"`
	ParticipantID string        `json:"participantId"`
	Edited        bool          `json:"edited"`
	Seen          bool          `json:"seen"`
	Users         []Participant `json:"users"`
}

func (s *Session) handleFrame(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		slog.Warn("Ignoring malformed frame", "error", err)
		return
	}

	switch frame.Type {
	case "pong":
		s.latencyMs.Store(clampLatency(time.Now().UnixMilli(), frame.SentAt))

	case "ping":
		// server never sends these; nothing to do

	case "edit":
		s.store.ApplyEdit(frame.ID, frame.Text, frame.Timestamp)

	case "seen":
		s.store.MarkSeen(frame.ID)

	case "delete":
		s.store.Delete(frame.ID)

	case "participants":
		s.mu.Lock()
		s.participants = frame.Users
		s.mu.Unlock()
		if s.cfg.OnParticipants != nil {
			s.cfg.OnParticipants(frame.Users)
		}

	case "", "message", "status":
		if frame.Text == "" || frame.Username == "" {
			slog.Debug("Ignoring incomplete message frame")
			return
		}
		s.appendMessage(frame)

	default:
		slog.Debug("Ignoring unrecognized frame", "type", frame.Type)
	}
}

func (s *Session) appendMessage(frame inboundFrame) {
	msg := Message{
		ID:            frame.ID,
		Type:          frame.Type,
		Text:          frame.Text,
		Username:      frame.Username,
		Timestamp:     frame.Timestamp,
		ParticipantID: frame.ParticipantID,
		Edited:        frame.Edited,
		Seen:          frame.Seen,
	}
	id, appended := s.store.Append(msg)
	if !appended {
		return
	}
	msg.ID = id

	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(msg)
	}
	s.emitSeenReceipts()
}

// emitSeenReceipts acknowledges every displayed message from another user
// exactly once per session.
func (s *Session) emitSeenReceipts() {
	username := s.Username()
	for _, id := range s.store.PendingReceipts(username) {
		s.send(map[string]interface{}{
			"type":      "seen",
			"id":        id,
			"username":  username,
			"timestamp": time.Now().UnixMilli(),
		})
	}
}

// SendMessage appends an optimistic local copy and sends the frame. An
// empty participantID broadcasts; otherwise the message is routed to that
// user and persisted server-side.
func (s *Session) SendMessage(text, participantID string) (Message, error) {
	if text == "" {
		return Message{}, errors.New("empty message")
	}

	msg := Message{
		ID:            uuid.NewString(),
		Text:          text,
		Username:      s.Username(),
		Timestamp:     time.Now().UnixMilli(),
		ParticipantID: participantID,
	}
	s.store.Append(msg)

	if err := s.send(msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// EditMessage mutates the local entry and broadcasts the edit.
func (s *Session) EditMessage(id, text string) error {
	now := time.Now().UnixMilli()
	s.store.ApplyEdit(id, text, now)
	return s.send(map[string]interface{}{
		"type":      "edit",
		"id":        id,
		"text":      text,
		"username":  s.Username(),
		"timestamp": now,
		"edited":    true,
		"seen":      false,
	})
}

// DeleteMessage removes the local entry and broadcasts the removal.
func (s *Session) DeleteMessage(id string) error {
	s.store.Delete(id)
	if err := s.send(map[string]interface{}{
		"type":      "delete",
		"id":        id,
		"username":  s.Username(),
		"timestamp": time.Now().UnixMilli(),
	}); err != nil {
		return err
	}
	return s.sendSystemStatus(fmt.Sprintf("%s deleted a message", s.Username()))
}

// Rename rebinds the session identity under a new display name.
func (s *Session) Rename(name string) error {
	s.mu.Lock()
	previous := s.username
	s.username = name
	s.mu.Unlock()

	if name == "" || name == previous {
		return nil
	}
	if err := s.sendIdentify(); err != nil {
		return err
	}
	return s.sendSystemStatus(fmt.Sprintf("%s is now %s", previous, name))
}

func (s *Session) sendIdentify() error {
	frame := map[string]interface{}{
		"type":     "identify",
		"username": s.Username(),
	}
	if s.cfg.UserID != "" {
		frame["userId"] = s.cfg.UserID
	}
	return s.send(frame)
}

func (s *Session) sendSystemStatus(text string) error {
	return s.send(map[string]interface{}{
		"type":      "status",
		"text":      text,
		"username":  "System",
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Session) send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ws == nil {
		return ErrNotConnected
	}
	s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteJSON(v)
}

// clampLatency absorbs clock-skew noise: a pong that appears to arrive
// before it was sent reads as zero, never negative.
func clampLatency(nowMs, sentAt int64) int64 {
	if d := nowMs - sentAt; d > 0 {
		return d
	}
	return 0
}
