// Package storage defines persistence contracts for gate service state.
//
// These interfaces exist so the check-in engine and HTTP handlers can depend
// on stable domain semantics without coupling to SQLite schema details.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already
	// exists, or a conditional update lost to a concurrent writer.
	ErrAlreadyExists = errors.New("record already exists")
)

// Attendee is one registered account holder. Operator accounts carry a
// non-empty Role; regular attendees leave it blank.
type Attendee struct {
	ID            string
	Username      string
	FullName      string
	Email         string
	EmailVerified bool
	Role          string
	Permissions   []string
}

// Event is one festival event with its check-in policy knobs.
type Event struct {
	ID              string
	Name            string
	TeamEvent       bool
	FoodProvided    bool
	MaxFoodServings int
}

// Registration links an attendee or a team to an event and carries the
// check-in state the engine mutates.
//
// FoodServedCount is canonical: implementations that still hold the legacy
// food_served boolean normalize it into the count on the read path, so
// business logic never branches on record vintage.
type Registration struct {
	ID               string
	EventID          string
	AttendeeID       string // empty for team registrations
	TeamID           string // empty for individual registrations
	Verified         bool
	CheckedIn        bool
	CheckedInAt      time.Time
	CheckedInBy      string
	FoodServedCount  int
	LastFoodServedAt time.Time
}

// Team groups attendees for team events.
type Team struct {
	ID        string
	EventID   string
	Name      string
	MemberIDs []string
}

// AttendeeStore persists attendee accounts.
type AttendeeStore interface {
	GetAttendee(ctx context.Context, id string) (Attendee, error)
	GetAttendeeByEmail(ctx context.Context, email string) (Attendee, error)
	MarkEmailVerified(ctx context.Context, id string) error
}

// EventStore persists events.
type EventStore interface {
	GetEvent(ctx context.Context, id string) (Event, error)
}

// RegistrationStore persists registrations and their check-in state.
//
// SetCheckedIn and AddFoodServing are the only mutations in the check-in
// path. Neither takes part in a larger transaction; implementations make
// each update conditional on the state it transitions from so concurrent
// duplicate scans degrade to one winner.
type RegistrationStore interface {
	GetRegistrationByAttendee(ctx context.Context, eventID, attendeeID string) (Registration, error)
	GetRegistrationByTeam(ctx context.Context, eventID, teamID string) (Registration, error)
	SetCheckedIn(ctx context.Context, registrationID, checkedInBy string, at time.Time) error
	AddFoodServing(ctx context.Context, registrationID string, newCount int, at time.Time) error
}

// TeamStore persists teams.
type TeamStore interface {
	ListTeamsByMember(ctx context.Context, eventID, attendeeID string) ([]Team, error)
}
