package assistant

import (
	"slices"

	"github.com/Hassffw/Micro-Jarvis/pkg/jarvis/profile"
)

// Session is the one conversation the assistant holds: the active profile
// and the running transcript of alternating user and assistant entries.
// It is owned by the Orchestrator and only touched under its lock.
type Session struct {
	profile    profile.Profile
	transcript []string
}

func newSession() *Session {
	return &Session{profile: profile.Profile{}.Clone()}
}

func (s *Session) setProfile(p profile.Profile) {
	s.profile = p.Clone()
}

func (s *Session) append(entry string) {
	s.transcript = append(s.transcript, entry)
}

// dropLast removes the newest transcript entry.
func (s *Session) dropLast() {
	if n := len(s.transcript); n > 0 {
		s.transcript = s.transcript[:n-1]
	}
}

func (s *Session) reset() {
	s.transcript = nil
}

// Snapshot is a copy of the session state safe to use outside the lock.
type Snapshot struct {
	Profile    profile.Profile
	Transcript []string
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Profile:    s.profile.Clone(),
		Transcript: slices.Clone(s.transcript),
	}
}
