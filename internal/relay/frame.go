package relay

import (
	"encoding/json"
	"fmt"

	"relay-service/internal/models"
)

// FrameKind is the closed set of frame types understood by the relay.
// Inbound frames either carry an explicit "type" discriminator or are
// implicit chat messages recognized by the presence of text and username.
type FrameKind string

const (
	KindPing         FrameKind = "ping"
	KindPong         FrameKind = "pong"
	KindIdentify     FrameKind = "identify"
	KindStatus       FrameKind = "status"
	KindEdit         FrameKind = "edit"
	KindDelete       FrameKind = "delete"
	KindSeen         FrameKind = "seen"
	KindParticipants FrameKind = "participants"
	KindMessage      FrameKind = "message"
)

func (k FrameKind) String() string {
	return string(k)
}

// Frame is the superset of fields the router reads from an inbound frame.
// Outbound frames are built from dedicated structs; verbatim relays forward
// the raw payload instead of re-marshalling this.
type Frame struct {
	Type          string `json:"type,omitempty"`
	ID            string `json:"id,omitempty"`
	Text          string `json:"text,omitempty"`
	Username      string `json:"username,omitempty"`
	UserID        string `json:"userId,omitempty"`
	SentAt        int64  `json:"sentAt,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
}

// DecodeFrame parses and classifies one inbound frame. Unrecognized type
// discriminators and type-less frames that do not qualify as implicit
// messages are rejected; they must never fall through to the chat path.
func DecodeFrame(data []byte) (FrameKind, *Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", nil, fmt.Errorf("malformed frame: %w", err)
	}

	if f.Type == "" {
		if f.Text != "" && f.Username != "" {
			return KindMessage, &f, nil
		}
		return "", nil, fmt.Errorf("frame has no type and is not a message")
	}

	kind := FrameKind(f.Type)
	switch kind {
	case KindPing, KindPong, KindIdentify, KindStatus, KindEdit,
		KindDelete, KindSeen, KindParticipants, KindMessage:
	default:
		return "", nil, fmt.Errorf("unrecognized frame type %q", f.Type)
	}

	if err := validate(kind, &f); err != nil {
		return "", nil, err
	}
	return kind, &f, nil
}

func validate(kind FrameKind, f *Frame) error {
	switch kind {
	case KindIdentify:
		if f.Username == "" {
			return fmt.Errorf("identify frame missing username")
		}
	case KindStatus:
		if f.Text == "" {
			return fmt.Errorf("status frame missing text")
		}
	case KindEdit:
		if f.ID == "" || f.Text == "" {
			return fmt.Errorf("edit frame missing id or text")
		}
	case KindDelete, KindSeen:
		if f.ID == "" {
			return fmt.Errorf("%s frame missing id", kind)
		}
	case KindMessage:
		if f.Text == "" || f.Username == "" {
			return fmt.Errorf("message frame missing text or username")
		}
	}
	return nil
}

/** -------------------- Outbound frames -------------------- */

type pongFrame struct {
	Type      string `json:"type"`
	SentAt    int64  `json:"sentAt"`
	Timestamp int64  `json:"timestamp"`
}

type participantsFrame struct {
	Type  string               `json:"type"`
	Users []models.Participant `json:"users"`
}

type statusFrame struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

// historyFrame is one replayed persisted message. It reproduces the stored
// record with participantId re-derived for the identifying viewer; the
// replay marker lets clients tell history from live traffic.
type historyFrame struct {
	models.Message
	Username      string `json:"username"`
	ParticipantID string `json:"participantId"`
	Replay        bool   `json:"replay"`
}
