package extract

import (
	"strings"
	"sync"
)

// ValidEmail reports whether email has an "@" with a "." somewhere after
// it.
func ValidEmail(email string) bool {
	at := strings.Index(email, "@")
	if at < 0 {
		return false
	}
	return strings.Contains(email[at+1:], ".")
}

// runState is the mutable state of one run: the emails already emitted
// and the properties processed since the last burst pause.
type runState struct {
	mu         sync.Mutex
	seen       map[string]struct{}
	sinceBurst int
}

func newRunState() *runState {
	return &runState{seen: make(map[string]struct{})}
}

// claimEmail marks email as emitted and reports whether it was new. Emails
// compare case-insensitively. Empty emails are never deduplicated.
func (s *runState) claimEmail(email string) bool {
	key := strings.ToLower(strings.TrimSpace(email))
	if key == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// addProcessed adds n to the burst counter and reports whether the burst
// threshold was reached, resetting the counter when it was.
func (s *runState) addProcessed(n, burstSize int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinceBurst += n
	if burstSize <= 0 || s.sinceBurst < burstSize {
		return s.sinceBurst, false
	}
	count := s.sinceBurst
	s.sinceBurst = 0
	return count, true
}
