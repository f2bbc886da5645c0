// Package passcode holds short-lived one-time-passcode sessions in process
// memory.
//
// Sessions are scoped by purpose, identity, and requesting device. The store
// is process-local by design: a restart invalidates every pending passcode,
// and multi-instance deployments need an external shared store this
// subsystem deliberately does not provide.
package passcode

import (
	"strings"
	"sync"
	"time"
)

// Purpose namespaces sessions so an attendee-facing passcode and an
// admin-facing passcode for the same email and device never collide.
type Purpose string

const (
	// PurposeAttendee scopes passcodes for account email verification.
	PurposeAttendee Purpose = "attendee"
	// PurposeAdmin scopes passcodes for administrator login.
	PurposeAdmin Purpose = "admin"
)

// Session is one pending passcode. Only the hash of the code is held.
type Session struct {
	OTPHash   string
	ExpiresAt time.Time
}

// key identifies one session. Identity normalization lives in the
// constructor so no call site can forget it; comparing the struct keeps
// namespaces isolated without string concatenation.
type key struct {
	purpose  Purpose
	identity string
	device   string
}

func newKey(purpose Purpose, identity, deviceID string) key {
	return key{
		purpose:  purpose,
		identity: strings.ToLower(strings.TrimSpace(identity)),
		device:   deviceID,
	}
}

// Store is an in-process passcode session store. It is safe for concurrent
// use by request handlers within one process.
type Store struct {
	mu       sync.Mutex
	sessions map[key]Session
	clock    func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[key]Session),
		clock:    time.Now,
	}
}

// Put stores a passcode session, unconditionally replacing any pending
// session for the same purpose, identity, and device. Expired entries across
// the whole store are swept opportunistically on every call; there is no
// background eviction.
func (s *Store) Put(purpose Purpose, identity, deviceID, otpHash string, expiresAt time.Time) error {
	if err := ValidateDeviceID(deviceID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.clock())
	s.sessions[newKey(purpose, identity, deviceID)] = Session{
		OTPHash:   otpHash,
		ExpiresAt: expiresAt,
	}
	return nil
}

// Get returns the pending session for the pair. An entry whose expiry has
// passed is deleted and reported as missing, exactly as if it never existed.
func (s *Store) Get(purpose Purpose, identity, deviceID string) (Session, bool) {
	if ValidateDeviceID(deviceID) != nil {
		return Session{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := newKey(purpose, identity, deviceID)
	session, ok := s.sessions[k]
	if !ok {
		return Session{}, false
	}
	if !session.ExpiresAt.After(s.clock()) {
		delete(s.sessions, k)
		return Session{}, false
	}
	return session, true
}

// Clear removes the pending session for the pair, if any.
func (s *Store) Clear(purpose Purpose, identity, deviceID string) {
	if ValidateDeviceID(deviceID) != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, newKey(purpose, identity, deviceID))
}

// Len reports the number of live sessions. Intended for tests and metrics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) sweepLocked(now time.Time) {
	for k, session := range s.sessions {
		if !session.ExpiresAt.After(now) {
			delete(s.sessions, k)
		}
	}
}
