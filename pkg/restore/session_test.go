package restore

import "testing"

func TestSessionModeDefaultsUnknown(t *testing.T) {
	s := NewSession()
	if got := s.Mode(); got != ModeUnknown {
		t.Fatalf("Mode() = %v, want Unknown", got)
	}
	if s.Quit() {
		t.Fatalf("Quit() = true on a fresh session")
	}
}

func TestSessionSetModeTransitions(t *testing.T) {
	s := NewSession()
	for _, m := range []Mode{ModeNormal, ModeRecovery, ModeRestore, ModeTerminal} {
		s.SetMode(m)
		if got := s.Mode(); got != m {
			t.Fatalf("Mode() = %v, want %v", got, m)
		}
	}
}

func TestSessionLatchQuitIsIdempotent(t *testing.T) {
	s := NewSession()
	s.LatchQuit()
	s.LatchQuit()
	if !s.Quit() {
		t.Fatalf("Quit() = false after LatchQuit()")
	}
}

func TestModeString(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{ModeUnknown, "Unknown"},
		{ModeNormal, "Normal"},
		{ModeRecovery, "Recovery"},
		{ModeRestore, "Restore"},
		{ModeTerminal, "Terminal"},
		{Mode(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("Mode(%d).String() = %q, want %q", tt.mode, got, tt.want)
		}
	}
}
