package client

import (
	"sync"

	"github.com/google/uuid"
)

// Message is one entry of the client-side log.
type Message struct {
	ID            string `json:"id"`
	Type          string `json:"type,omitempty"`
	Text          string `json:"text"`
	Username      string `json:"username"`
	Timestamp     int64  `json:"timestamp"`
	ParticipantID string `json:"participantId,omitempty"`
	Edited        bool   `json:"edited"`
	Seen          bool   `json:"seen"`
}

// Store is the ordered, id-keyed message log. Entries keep arrival order,
// which drives render order; the id index gives O(1) mutation lookup. All
// mutations addressed to an unknown id are no-ops.
type Store struct {
	mu    sync.Mutex
	order []*Message
	index map[string]*Message
	acked map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		index: make(map[string]*Message),
		acked: make(map[string]struct{}),
	}
}

// Append adds a message to the log, minting an id when the frame carried
// none. Appending an id already present is a no-op: the same message can
// arrive twice through the optimistic local copy, the server echo, and
// history replay racing live traffic. Returns the effective id and whether
// the log grew.
func (s *Store) Append(msg Message) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, ok := s.index[msg.ID]; ok {
		return msg.ID, false
	}

	entry := msg
	s.order = append(s.order, &entry)
	s.index[entry.ID] = &entry
	return entry.ID, true
}

// ApplyEdit replaces the text of an existing entry and marks it edited.
func (s *Store) ApplyEdit(id, text string, timestamp int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.index[id]
	if !ok {
		return false
	}
	entry.Text = text
	entry.Edited = true
	if timestamp > 0 {
		entry.Timestamp = timestamp
	}
	return true
}

// MarkSeen flags an existing entry as seen.
func (s *Store) MarkSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.index[id]
	if !ok {
		return false
	}
	entry.Seen = true
	return true
}

// Delete removes an entry from the log.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.index[id]
	if !ok {
		return false
	}
	delete(s.index, id)
	for i, e := range s.order {
		if e == entry {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// PendingReceipts returns the ids that still need a seen receipt: entries
// not authored by the local user and not status lines, each returned at
// most once per session so re-renders never cause receipt storms. The id
// is recorded before the caller attempts the send, so a receipt lost to a
// dying socket is not retried: seen delivery is at-most-once per session.
func (s *Store) PendingReceipts(localUsername string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, entry := range s.order {
		if entry.Username == localUsername || entry.Type == "status" {
			continue
		}
		if _, ok := s.acked[entry.ID]; ok {
			continue
		}
		s.acked[entry.ID] = struct{}{}
		ids = append(ids, entry.ID)
	}
	return ids
}

// Messages returns a copy of the log in arrival order.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, 0, len(s.order))
	for _, entry := range s.order {
		out = append(out, *entry)
	}
	return out
}

// Get returns the entry with the given id, if present.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return *entry, true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
