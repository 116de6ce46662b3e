package mcpserver

import "sync"

// State is a session's position in the MCP lifecycle state machine (spec
// §4.7).
type State int

const (
	StateUninitialized State = iota
	StateReady
)

// Session tracks one client connection's lifecycle state and identity.
// HTTP is request-per-call so each request may carry its own Session keyed
// by a client-supplied id; stdio holds exactly one Session for the process
// lifetime.
type Session struct {
	mu       sync.Mutex
	state    State
	clientID string
}

// NewSession starts a session in the Uninitialized state.
func NewSession(clientID string) *Session {
	return &Session{state: StateUninitialized, clientID: clientID}
}

func (s *Session) get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transitionToReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateReady
}

// allowedBeforeReady is the method allowlist for the Uninitialized state:
// initialize and ping, plus the initialized notification that performs the
// transition to Ready.
var allowedBeforeReady = map[string]bool{
	"initialize":  true,
	"initialized": true,
	"ping":        true,
}
