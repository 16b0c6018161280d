package arena

import (
	"errors"
	"sync"
)

var (
	ErrAlreadyQueued = errors.New("player already queued")
	ErrBusy          = errors.New("player already in a session")
	ErrConflict      = errors.New("pairing conflict")
)

// Store is the single owner of the queue, ready sets and session registry.
// Callers never see the raw maps; each exported method is one atomic step.
type Store struct {
	mu       sync.Mutex
	queue    map[string]*QueueEntry
	ready    map[string]map[string]struct{}
	sessions map[string]*Session
	byRoom   map[string]string
	byPlayer map[string]string
}

func NewStore() *Store {
	return &Store{
		queue:    make(map[string]*QueueEntry),
		ready:    make(map[string]map[string]struct{}),
		sessions: make(map[string]*Session),
		byRoom:   make(map[string]string),
		byPlayer: make(map[string]string),
	}
}

// InsertEntry queues a search request. A player mid-session or already queued
// is rejected.
func (st *Store) InsertEntry(e *QueueEntry) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.queue[e.PlayerID]; ok {
		return ErrAlreadyQueued
	}
	if _, ok := st.byPlayer[e.PlayerID]; ok {
		return ErrBusy
	}
	st.queue[e.PlayerID] = e
	return nil
}

// RemoveEntry drops a player's queue entry if present.
func (st *Store) RemoveEntry(playerID string) (*QueueEntry, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.queue[playerID]
	if ok {
		delete(st.queue, playerID)
	}
	return e, ok
}

// Restore re-inserts entries after a failed pairing, preserving their
// original JoinedAt so they keep their place in FIFO tie-breaks.
func (st *Store) Restore(entries ...*QueueEntry) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, e := range entries {
		if e == nil {
			continue
		}
		if _, ok := st.byPlayer[e.PlayerID]; ok {
			continue
		}
		st.queue[e.PlayerID] = e
	}
}

// TakePair atomically selects the best opponent for playerID inside the
// rating window (earliest joined wins ties) and removes both entries. The
// compare-and-remove happens under one lock so a concurrent pairing attempt
// can never pick either player again. ok is false when the requester is no
// longer queued or no compatible opponent exists.
func (st *Store) TakePair(playerID string, window int) (requester, opponent *QueueEntry, ok bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	req, present := st.queue[playerID]
	if !present {
		return nil, nil, false
	}
	var best *QueueEntry
	for id, cand := range st.queue {
		if id == playerID {
			continue
		}
		diff := cand.Rating - req.Rating
		if diff < -window || diff > window {
			continue
		}
		if best == nil || cand.JoinedAt.Before(best.JoinedAt) {
			best = cand
		}
	}
	if best == nil {
		return nil, nil, false
	}
	delete(st.queue, req.PlayerID)
	delete(st.queue, best.PlayerID)
	return req, best, true
}

// QueueLen reports the number of waiting entries.
func (st *Store) QueueLen() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.queue)
}

// PutSession registers a new session and indexes its members. ErrConflict
// means one of the players already belongs to a live session; the caller must
// requeue.
func (st *Store) PutSession(s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, p := range s.Players {
		if p == nil {
			return ErrConflict
		}
		if _, ok := st.byPlayer[p.ID]; ok {
			return ErrConflict
		}
	}
	st.sessions[s.ID] = s
	st.byRoom[s.RoomID] = s.ID
	for _, p := range s.Players {
		st.byPlayer[p.ID] = s.ID
	}
	return nil
}

// SessionByID returns the registered session, or nil.
func (st *Store) SessionByID(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions[id]
}

// SessionByRoom returns the session bound to a room id, or nil.
func (st *Store) SessionByRoom(roomID string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if id, ok := st.byRoom[roomID]; ok {
		return st.sessions[id]
	}
	return nil
}

// SessionByPlayer returns the live session a player belongs to, or nil.
func (st *Store) SessionByPlayer(playerID string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if id, ok := st.byPlayer[playerID]; ok {
		return st.sessions[id]
	}
	return nil
}

// MarkReady adds playerID to the session's ready set and returns its new
// size. The set is created on first use and dropped by ClearReady.
func (st *Store) MarkReady(sessionID, playerID string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	set, ok := st.ready[sessionID]
	if !ok {
		set = make(map[string]struct{})
		st.ready[sessionID] = set
	}
	set[playerID] = struct{}{}
	return len(set)
}

// ClearReady discards the session's ready set.
func (st *Store) ClearReady(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.ready, sessionID)
}

// ReleaseSession removes a finished session and all its indexes.
func (st *Store) ReleaseSession(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[sessionID]
	if !ok {
		return
	}
	delete(st.sessions, sessionID)
	delete(st.ready, sessionID)
	delete(st.byRoom, s.RoomID)
	for _, p := range s.Players {
		if p != nil {
			delete(st.byPlayer, p.ID)
		}
	}
}
