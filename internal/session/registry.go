package session

import "sync"

// registry maps user identities to their sessions. The registry lock guards
// only the map; per-user serialization lives on each state's own mutex, so
// no user can block another's handling.
type registry struct {
	mu     sync.Mutex
	byUser map[int64]*state
}

func newRegistry() *registry {
	return &registry{byUser: make(map[int64]*state)}
}

// get returns the session for userID, creating an Idle one if absent.
// Entries persist for the process lifetime so the per-user mutex identity
// stays stable across batch resets.
func (r *registry) get(userID int64) *state {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byUser[userID]
	if !ok {
		s = &state{phase: PhaseIdle}
		r.byUser[userID] = s
	}
	return s
}
