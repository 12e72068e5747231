package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/chat-gateway/internal/model/chat"
)

// Store keeps bounded per-session conversation history in process memory.
// Appends to the same session are serialized by a per-conversation lock;
// different sessions never contend with each other beyond the map lookup.
type Store struct {
	mu         sync.RWMutex
	maxHistory int
	sessions   map[string]*conversation
}

type conversation struct {
	mu       sync.Mutex
	messages []chat.Message
	touched  time.Time
}

// New bootstraps an in-memory store retaining at most maxHistory messages
// per session.
func New(maxHistory int) *Store {
	return &Store{
		maxHistory: maxHistory,
		sessions:   make(map[string]*conversation),
	}
}

// Append records msg under sessionID, creating the session on first use and
// evicting the oldest message while the history exceeds its bound. Returns
// the stored message with ID and timestamp filled in.
func (s *Store) Append(sessionID string, msg chat.Message) chat.Message {
	conv := s.conversationFor(sessionID)

	conv.mu.Lock()
	defer conv.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.SessionID = sessionID

	conv.messages = append(conv.messages, msg)
	for len(conv.messages) > s.maxHistory {
		conv.messages = append(conv.messages[:0], conv.messages[1:]...)
	}
	conv.touched = time.Now().UTC()

	return msg
}

// History returns the session's turns in chronological order, stripped down
// to role and content. Unknown sessions yield an empty history, not an error.
func (s *Store) History(sessionID string) []chat.Turn {
	s.mu.RLock()
	conv, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	turns := make([]chat.Turn, 0, len(conv.messages))
	for _, msg := range conv.messages {
		turns = append(turns, chat.Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}

// Sweep removes sessions idle longer than ttl and reports how many were
// dropped. Sessions are created lazily, so without sweeping the map grows
// with every distinct identity ever seen.
func (s *Store) Sweep(ttl time.Duration) int {
	cutoff := time.Now().UTC().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for sessionID, conv := range s.sessions {
		conv.mu.Lock()
		idle := conv.touched.Before(cutoff)
		conv.mu.Unlock()
		if idle {
			delete(s.sessions, sessionID)
			removed++
		}
	}
	return removed
}

// conversationFor returns the session's conversation, creating it on first
// use. Double-checked so concurrent first appends share one entry.
func (s *Store) conversationFor(sessionID string) *conversation {
	s.mu.RLock()
	conv, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return conv
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.sessions[sessionID]; ok {
		return conv
	}
	conv = &conversation{touched: time.Now().UTC()}
	s.sessions[sessionID] = conv
	return conv
}
