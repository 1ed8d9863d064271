package calendarsync

import "sync"

// State is the phase of a sync session.
type State string

const (
	StateDisabled      State = "disabled"
	StateInitializing  State = "initializing"
	StateEnabled       State = "enabled"
	StateErrorRetrying State = "error_retrying"
)

// SessionState is a snapshot of a session.
type SessionState struct {
	State         State
	Enabled       bool
	ProviderReady bool
	// LastError is suitable for showing to the user directly.
	LastError  string
	Retrying   bool
	Provider   string
	CalendarID string
}

// Session is the state of calendar syncing for one process. It is owned by
// whoever creates it and handed to an Engine; tests create as many as they
// need.
type Session struct {
	mu       sync.Mutex
	state    SessionState
	mapping  *Mapping
	gen      uint64
	disposed bool
}

// NewSession returns an initialized, disabled session.
func NewSession() *Session {
	s := &Session{}
	s.Init()
	return s
}

// Init resets the session to disabled with an empty mapping. Any pass still
// running from before stops affecting the session state.
func (s *Session) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionState{State: StateDisabled}
	s.mapping = newMapping()
	s.gen++
	s.disposed = false
}

// Dispose drops the mapping and disables the session. Engine calls fail
// until Init is called again. Events already in the calendar are kept.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionState{State: StateDisabled}
	s.mapping = newMapping()
	s.gen++
	s.disposed = true
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) currentMapping() *Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapping
}

// update applies fn to the state while holding the lock.
func (s *Session) update(fn func(st *SessionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	s.state.Enabled = s.state.State == StateEnabled
}

// updateIfCurrent applies fn only if no newer pass has started since gen.
func (s *Session) updateIfCurrent(gen uint64, fn func(st *SessionState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	fn(&s.state)
	s.state.Enabled = s.state.State == StateEnabled
	return true
}

// begin starts a new initialization pass and returns its generation.
func (s *Session) begin(provider string, retrying bool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return 0, ErrSessionDisposed
	}
	s.gen++
	s.state = SessionState{
		State:    StateInitializing,
		Retrying: retrying,
		Provider: provider,
	}
	return s.gen, nil
}

func (s *Session) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}
