package retrieval

import (
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/markdave123-py/policyqa/internal/models"
)

type session struct {
	mu       sync.Mutex
	messages []models.ChatMessage
}

// SessionRegistry holds in-memory conversations keyed by session id. Each
// conversation keeps at most window messages; the least recently used
// session is evicted once maxSessions is reached.
type SessionRegistry struct {
	window int
	mu     sync.Mutex
	cache  *lru.Cache[string, *session]
}

func NewSessionRegistry(window, maxSessions int) (*SessionRegistry, error) {
	if window <= 0 {
		window = 20
	}
	if maxSessions <= 0 {
		maxSessions = 1000
	}
	cache, err := lru.New[string, *session](maxSessions)
	if err != nil {
		return nil, err
	}
	return &SessionRegistry{window: window, cache: cache}, nil
}

// New creates an empty session and returns its id.
func (r *SessionRegistry) New() string {
	id := uuid.NewString()
	r.cache.Add(id, &session{})
	return id
}

// Resolve returns the session for id, creating it on first reference.
// An empty id gets a fresh uuid. created reports whether the session is new.
func (r *SessionRegistry) Resolve(id string) (resolved string, created bool) {
	if id == "" {
		return r.New(), true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cache.Get(id); ok {
		return id, false
	}
	r.cache.Add(id, &session{})
	return id, true
}

// History returns a copy of the session's messages; unknown ids yield nil.
func (r *SessionRegistry) History(id string) []models.ChatMessage {
	s, ok := r.cache.Get(id)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Recent returns up to n of the session's latest messages. The result
// never opens with an assistant turn.
func (r *SessionRegistry) Recent(id string, n int) []models.ChatMessage {
	h := r.History(id)
	if n >= 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	for len(h) > 0 && h[0].Role == models.RoleAssistant {
		h = h[1:]
	}
	return h
}

// Append adds messages and drops the oldest ones beyond the window.
func (r *SessionRegistry) Append(id string, msgs ...models.ChatMessage) {
	r.mu.Lock()
	s, ok := r.cache.Get(id)
	if !ok {
		s = &session{}
		r.cache.Add(id, s)
	}
	r.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
	if over := len(s.messages) - r.window; over > 0 {
		s.messages = append([]models.ChatMessage(nil), s.messages[over:]...)
	}
}

// Clear removes the session and reports whether it existed.
func (r *SessionRegistry) Clear(id string) bool {
	return r.cache.Remove(id)
}

func (r *SessionRegistry) Len() int {
	return r.cache.Len()
}

func (r *SessionRegistry) Window() int {
	return r.window
}
