package restore

import "sync"

// Mode is the device's position in the Unknown->Normal/Recovery->Restore->Terminal
// state machine (§4.6).
type Mode int

const (
	ModeUnknown Mode = iota
	ModeNormal
	ModeRecovery
	ModeRestore
	ModeTerminal
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "Normal"
	case ModeRecovery:
		return "Recovery"
	case ModeRestore:
		return "Restore"
	case ModeTerminal:
		return "Terminal"
	default:
		return "Unknown"
	}
}

// Session is the single explicit value the orchestrator and the hotplug
// observer goroutine share, replacing the source's process-wide mode/quit/
// custom globals (§9); verbosity is the logger's level, set by the CLI.
// mode and quit are the only two fields ever
// touched from the observer goroutine; both are guarded by mu so every
// cross-goroutine read/write is atomic and ordered.
type Session struct {
	mu   sync.Mutex
	mode Mode
	quit bool

	// Custom skips signature substitution in C3 when set (-c).
	Custom bool
	// UDID targets a specific device; empty means "the only attached device".
	UDID string
}

// NewSession returns a Session in the initial Unknown mode.
func NewSession() *Session {
	return &Session{mode: ModeUnknown}
}

// Mode returns the current session mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode advances the session mode. Callers are responsible for respecting
// monotonicity (§8 invariant 5); SetMode itself does not reject backward
// transitions so that Terminal can be forced from any error path.
func (s *Session) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// Quit reports whether the quit latch has been set.
func (s *Session) Quit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quit
}

// LatchQuit sets the quit latch. It is idempotent and safe to call from the
// hotplug observer goroutine or from an os/signal handler.
func (s *Session) LatchQuit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quit = true
}
