package assistant

import (
	"sync"
	"time"
)

// MaxHistoryPairs is how many user/assistant exchanges a session retains.
const MaxHistoryPairs = 20

// Turn is one entry of a conversation history.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

type session struct {
	mu       sync.Mutex
	turns    []Turn
	lastSeen time.Time

	// preferText is the sticky presentation preference per operation kind:
	// once the user asks for text output of an operation, later large
	// results of that operation stay textual until changed.
	preferText map[string]bool

	// lastRows holds the most recent query result so "send it as PDF"
	// can be honored without re-running the query.
	lastRows      []map[string]any
	lastOperation string
	lastTitle     string
}

// SessionStore keeps bounded per-user conversation state. Each session is
// locked independently so concurrent users never serialize on each other.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*session)}
}

func (s *SessionStore) get(key string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		sess = &session{}
		s.sessions[key] = sess
	}
	return sess
}

// History returns a copy of the session's turns, oldest first.
func (s *SessionStore) History(key string) []Turn {
	sess := s.get(key)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]Turn, len(sess.turns))
	copy(out, sess.turns)
	return out
}

// Append records one completed exchange. The history is truncated from the
// front in whole pairs, so it never exceeds MaxHistoryPairs exchanges and
// always starts with a user turn.
func (s *SessionStore) Append(key, userMsg, assistantMsg string) {
	sess := s.get(key)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.turns = append(sess.turns,
		Turn{Role: "user", Content: userMsg},
		Turn{Role: "assistant", Content: assistantMsg},
	)
	if max := MaxHistoryPairs * 2; len(sess.turns) > max {
		sess.turns = append([]Turn(nil), sess.turns[len(sess.turns)-max:]...)
	}
	sess.lastSeen = time.Now()
}

// Reset clears the session's history and cached result, keeping the
// presentation preference.
func (s *SessionStore) Reset(key string) {
	sess := s.get(key)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.turns = nil
	sess.lastRows = nil
	sess.lastOperation = ""
	sess.lastTitle = ""
}

// PreferText reports the sticky text preference for an operation kind.
func (s *SessionStore) PreferText(key, operation string) bool {
	sess := s.get(key)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.preferText[operation]
}

// SetPreferText records the presentation preference for an operation kind.
func (s *SessionStore) SetPreferText(key, operation string, v bool) {
	sess := s.get(key)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.preferText == nil {
		sess.preferText = make(map[string]bool)
	}
	sess.preferText[operation] = v
}

// RememberResult caches the latest query result for on-demand export.
func (s *SessionStore) RememberResult(key, operation, title string, rows []map[string]any) {
	sess := s.get(key)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastOperation = operation
	sess.lastTitle = title
	sess.lastRows = rows
}

// LastResult returns the cached result, if any.
func (s *SessionStore) LastResult(key string) (operation, title string, rows []map[string]any, ok bool) {
	sess := s.get(key)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.lastRows == nil {
		return "", "", nil, false
	}
	return sess.lastOperation, sess.lastTitle, sess.lastRows, true
}

// ActiveSessions counts sessions seen within the window, for /stats.
func (s *SessionStore) ActiveSessions(window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	cutoff := time.Now().Add(-window)
	for _, sess := range s.sessions {
		sess.mu.Lock()
		if sess.lastSeen.After(cutoff) {
			n++
		}
		sess.mu.Unlock()
	}
	return n
}
