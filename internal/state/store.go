// internal/state/store.go
package state

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/user/dram/internal/types"
)

var (
	ErrUnknownField = errors.New("unknown session field")
	ErrFieldType    = errors.New("wrong type for session field")
)

// Field names a session-local value reachable through the current-session accessors.
type Field string

const (
	FieldMessages              Field = "messages"
	FieldSessionCost           Field = "sessionCost"
	FieldSessionInputTokens    Field = "sessionInputTokens"
	FieldSessionOutputTokens   Field = "sessionOutputTokens"
	FieldLocalRequestCount     Field = "localRequestCount"
	FieldLocalProviderRequests Field = "localProviderRequests"
	FieldLocalModelUsage       Field = "localModelUsage"
	FieldSessionStartedAt      Field = "sessionStartedAt"
)

// SessionFields lists every field resolved through the current session.
var SessionFields = []Field{
	FieldMessages,
	FieldSessionCost,
	FieldSessionInputTokens,
	FieldSessionOutputTokens,
	FieldLocalRequestCount,
	FieldLocalProviderRequests,
	FieldLocalModelUsage,
	FieldSessionStartedAt,
}

// Store is the process-wide client state. Session-local fields always resolve through
// a session looked up by id; everything else is global.
//
// Callbacks passed to MutateSession, MutateCurrent and MutateRouting run under the
// store's write lock and must not call back into the Store.
type Store struct {
	mu        sync.RWMutex
	sessions  []*Session
	currentID types.SessionID
	routing   RoutingState
	voiceMode bool
	connected bool
}

// New returns a store seeded with one empty session.
func New() *Store {
	s := &Store{routing: newRoutingState()}
	s.CreateSession("", "")
	return s
}

// CreateSession appends a session and makes it current. An empty id is minted; an id
// that already exists is switched to instead.
func (s *Store) CreateSession(id types.SessionID, name string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = types.NewSessionID()
	}
	if existing := s.find(id); existing != nil {
		s.currentID = id
		return existing.Clone()
	}
	if name == "" {
		name = fmt.Sprintf("Session %d", len(s.sessions)+1)
	}
	sess := newSession(id, name)
	s.sessions = append(s.sessions, sess)
	s.currentID = id
	return sess.Clone()
}

// SwitchSession makes id current. It reports false if no such session exists.
func (s *Store) SwitchSession(id types.SessionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(id) == nil {
		return false
	}
	s.currentID = id
	return true
}

// RemoveSession deletes a session. Removing the last remaining session is a no-op.
// If the removed session was current, the one before it in list order (or the new
// first session) becomes current.
func (s *Store) RemoveSession(id types.SessionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) <= 1 {
		return false
	}
	idx := slices.IndexFunc(s.sessions, func(sess *Session) bool { return sess.ID == id })
	if idx < 0 {
		return false
	}
	s.sessions = slices.Delete(s.sessions, idx, idx+1)
	if s.currentID == id {
		next := max(idx-1, 0)
		s.currentID = s.sessions[next].ID
	}
	return true
}

// CurrentSessionID returns the id of the current session.
func (s *Store) CurrentSessionID() types.SessionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// HasSession reports whether id names an open session.
func (s *Store) HasSession(id types.SessionID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(id) != nil
}

// Session returns a copy of the session with the given id.
func (s *Store) Session(id types.SessionID) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := s.find(id)
	if sess == nil {
		return Session{}, false
	}
	return sess.Clone(), true
}

// Current returns a copy of the current session.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(s.currentID).Clone()
}

// Sessions returns copies of all sessions in list order.
func (s *Store) Sessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	return out
}

// SessionCount returns the number of open sessions.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// MutateSession runs fn against the session with the given id. It reports false, without
// calling fn, when the session does not exist.
func (s *Store) MutateSession(id types.SessionID, fn func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.find(id)
	if sess == nil {
		return false
	}
	fn(sess)
	return true
}

// MutateCurrent runs fn against the current session.
func (s *Store) MutateCurrent(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.find(s.currentID))
}

// GetSessionField reads a session-local field of the current session.
func (s *Store) GetSessionField(field Field) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.find(s.currentID).Clone()
	switch field {
	case FieldMessages:
		return c.Messages, nil
	case FieldSessionCost:
		return c.SessionCost, nil
	case FieldSessionInputTokens:
		return c.SessionInputTokens, nil
	case FieldSessionOutputTokens:
		return c.SessionOutputTokens, nil
	case FieldLocalRequestCount:
		return c.LocalRequestCount, nil
	case FieldLocalProviderRequests:
		return c.LocalProviderRequests, nil
	case FieldLocalModelUsage:
		return c.LocalModelUsage, nil
	case FieldSessionStartedAt:
		return c.SessionStartedAt, nil
	}
	return nil, fmt.Errorf("get %q: %w", field, ErrUnknownField)
}

// SetSessionField writes a session-local field of the current session.
func (s *Store) SetSessionField(field Field, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.find(s.currentID)
	ok := true
	switch field {
	case FieldMessages:
		var v []types.Message
		if v, ok = value.([]types.Message); ok {
			sess.Messages = slices.Clone(v)
		}
	case FieldSessionCost:
		var v float64
		if v, ok = value.(float64); ok {
			sess.SessionCost = v
		}
	case FieldSessionInputTokens:
		var v int
		if v, ok = value.(int); ok {
			sess.SessionInputTokens = v
		}
	case FieldSessionOutputTokens:
		var v int
		if v, ok = value.(int); ok {
			sess.SessionOutputTokens = v
		}
	case FieldLocalRequestCount:
		var v int
		if v, ok = value.(int); ok {
			sess.LocalRequestCount = v
		}
	case FieldLocalProviderRequests:
		var v map[string]types.ProviderUsage
		if v, ok = value.(map[string]types.ProviderUsage); ok {
			sess.LocalProviderRequests = maps.Clone(v)
		}
	case FieldLocalModelUsage:
		var v map[string]types.ModelUsage
		if v, ok = value.(map[string]types.ModelUsage); ok {
			sess.LocalModelUsage = maps.Clone(v)
		}
	case FieldSessionStartedAt:
		var v time.Time
		if v, ok = value.(time.Time); ok {
			sess.SessionStartedAt = v
		}
	default:
		return fmt.Errorf("set %q: %w", field, ErrUnknownField)
	}
	if !ok {
		return fmt.Errorf("set %q to %T: %w", field, value, ErrFieldType)
	}
	return nil
}

// Routing returns a copy of the global routing state.
func (s *Store) Routing() RoutingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.routing.Clone()
}

// MutateRouting runs fn against the global routing state.
func (s *Store) MutateRouting(fn func(*RoutingState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.routing)
}

func (s *Store) VoiceMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voiceMode
}

func (s *Store) SetVoiceMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceMode = on
}

func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Store) SetConnected(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = on
}

// View is a consistent read-only copy of the whole store.
type View struct {
	CurrentSessionID types.SessionID `json:"current_session_id"`
	Sessions         []Session       `json:"sessions"`
	Routing          RoutingState    `json:"routing"`
	VoiceMode        bool            `json:"voice_mode"`
	Connected        bool            `json:"connected"`
}

// Snapshot copies the store for presentation readers.
func (s *Store) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		CurrentSessionID: s.currentID,
		Sessions:         make([]Session, 0, len(s.sessions)),
		Routing:          s.routing.Clone(),
		VoiceMode:        s.voiceMode,
		Connected:        s.connected,
	}
	for _, sess := range s.sessions {
		v.Sessions = append(v.Sessions, sess.Clone())
	}
	return v
}

// find returns the session with the given id. Caller must hold the lock.
func (s *Store) find(id types.SessionID) *Session {
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}
