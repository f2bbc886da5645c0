// Package engine applies the entry and food-distribution rules for scanned
// attendees.
//
// The engine consumes a scanned identity token, resolves the attendee's
// verified registration for the event, and returns a Verdict. Steps execute
// in a fixed order and the first applicable rule terminates the flow; only
// the two success paths mutate registration state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/lanternfest/platform/internal/services/gate/storage"
)

// FoodCooldown is the minimum elapsed time between two food servings for the
// same registration.
const FoodCooldown = 2 * time.Hour

// Decoder verifies a scanned QR payload and yields the attendee id it signs.
type Decoder interface {
	Decode(token string) (string, bool)
}

// Engine authorizes check-in scans against registration state.
type Engine struct {
	attendees     storage.AttendeeStore
	events        storage.EventStore
	registrations storage.RegistrationStore
	teams         storage.TeamStore
	decoder       Decoder
	clock         func() time.Time
}

// New creates an engine over the given stores and token decoder.
func New(
	attendees storage.AttendeeStore,
	events storage.EventStore,
	registrations storage.RegistrationStore,
	teams storage.TeamStore,
	decoder Decoder,
) *Engine {
	return &Engine{
		attendees:     attendees,
		events:        events,
		registrations: registrations,
		teams:         teams,
		decoder:       decoder,
		clock:         time.Now,
	}
}

// PerformCheckIn evaluates one scan and returns its verdict.
//
// No failure escapes as an error: unexpected panics and storage failures are
// converted into a generic error verdict so the transport layer always has a
// structured, displayable result.
func (e *Engine) PerformCheckIn(ctx context.Context, req Request) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("check-in panic recovered: %v", r)
			verdict = errorVerdict("Check-in failed. Try again or contact an organizer.")
		}
	}()

	if strings.TrimSpace(req.EventID) == "" || strings.TrimSpace(req.QRPayload) == "" {
		return errorVerdict("Event and QR payload are required.")
	}
	if req.Action != ActionEntry && req.Action != ActionFood {
		return errorVerdict("Unknown check-in action.")
	}

	// The denial for an unverifiable QR names no attendee: the scanner must
	// not become an oracle confirming which accounts exist.
	attendeeID, ok := e.decoder.Decode(req.QRPayload)
	if !ok {
		return Verdict{Allowed: false, Status: StatusDenied, Message: "Invalid QR. Entry denied."}
	}

	event, err := e.events.GetEvent(ctx, req.EventID)
	if errors.Is(err, storage.ErrNotFound) {
		return errorVerdict("Event not found.")
	}
	if err != nil {
		log.Printf("check-in: load event %s: %v", req.EventID, err)
		return errorVerdict("Could not load event. Try again.")
	}

	// A signed token for a since-deleted account decodes fine but loads no
	// attendee; the scan then falls through to the not-registered denial
	// with the default display name.
	attendee, err := e.attendees.GetAttendee(ctx, attendeeID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("check-in: load attendee %s: %v", attendeeID, err)
		return errorVerdict("Could not load attendee. Try again.")
	}

	registration, found, err := e.resolveRegistration(ctx, event, attendeeID)
	if err != nil {
		log.Printf("check-in: resolve registration for %s at %s: %v", attendeeID, event.ID, err)
		return errorVerdict("Could not load registration. Try again.")
	}

	name := displayName(attendee)
	if !found {
		return Verdict{
			Allowed:       false,
			Status:        StatusDenied,
			Message:       fmt.Sprintf("%s is not registered for %s.", name, event.Name),
			AttendeeName:  name,
			AttendeeEmail: attendee.Email,
		}
	}

	switch req.Action {
	case ActionEntry:
		return e.performEntry(ctx, event, attendee, registration, req.CheckedInBy)
	default:
		return e.performFood(ctx, event, attendee, registration)
	}
}

// performEntry handles the entry action. A repeat scan is informational, not
// an error, and mutates nothing.
func (e *Engine) performEntry(ctx context.Context, event storage.Event, attendee storage.Attendee, registration storage.Registration, checkedInBy string) Verdict {
	name := displayName(attendee)

	if registration.CheckedIn {
		return Verdict{
			Allowed:       true,
			Status:        StatusWarning,
			Duplicate:     true,
			Message:       fmt.Sprintf("%s is already checked in for %s.", name, event.Name),
			AttendeeName:  name,
			AttendeeEmail: attendee.Email,
		}
	}

	if err := e.registrations.SetCheckedIn(ctx, registration.ID, checkedInBy, e.clock()); err != nil {
		log.Printf("check-in: persist entry for registration %s: %v", registration.ID, err)
		return errorVerdict("Could not record check-in. Try again.")
	}
	return Verdict{
		Allowed:       true,
		Status:        StatusSuccess,
		Message:       fmt.Sprintf("%s checked in for %s.", name, event.Name),
		AttendeeName:  name,
		AttendeeEmail: attendee.Email,
	}
}

// performFood handles the food action: event must provide food, the attendee
// must already be checked in, and both the per-event serving maximum and the
// cooldown window must allow another serving.
func (e *Engine) performFood(ctx context.Context, event storage.Event, attendee storage.Attendee, registration storage.Registration) Verdict {
	name := displayName(attendee)

	if !event.FoodProvided {
		return errorVerdict(fmt.Sprintf("%s does not provide food.", event.Name))
	}
	if !registration.CheckedIn {
		return Verdict{
			Allowed:       false,
			Status:        StatusDenied,
			Message:       fmt.Sprintf("%s must check in for %s before food is served.", name, event.Name),
			AttendeeName:  name,
			AttendeeEmail: attendee.Email,
		}
	}

	maxServings := event.MaxFoodServings
	if maxServings < 1 {
		maxServings = 1
	}
	current := registration.FoodServedCount

	if current >= maxServings {
		return Verdict{
			Allowed:         false,
			Status:          StatusDenied,
			Duplicate:       true,
			Message:         fmt.Sprintf("%s already received %d/%d food servings.", name, current, maxServings),
			AttendeeName:    name,
			AttendeeEmail:   attendee.Email,
			FoodServedCount: current,
			MaxFoodServings: maxServings,
		}
	}

	if current > 0 && !registration.LastFoodServedAt.IsZero() {
		elapsed := e.clock().Sub(registration.LastFoodServedAt)
		if elapsed < FoodCooldown {
			wait := int(math.Ceil((FoodCooldown - elapsed).Minutes()))
			return Verdict{
				Allowed:         false,
				Status:          StatusDenied,
				Duplicate:       true,
				Message:         fmt.Sprintf("%s was just served. Next serving in %d minutes.", name, wait),
				AttendeeName:    name,
				AttendeeEmail:   attendee.Email,
				FoodServedCount: current,
				MaxFoodServings: maxServings,
				WaitMinutes:     wait,
			}
		}
	}

	newCount := current + 1
	if err := e.registrations.AddFoodServing(ctx, registration.ID, newCount, e.clock()); err != nil {
		log.Printf("check-in: persist food serving for registration %s: %v", registration.ID, err)
		return errorVerdict("Could not record food serving. Try again.")
	}
	return Verdict{
		Allowed:         true,
		Status:          StatusSuccess,
		Message:         fmt.Sprintf("Served %s (%d/%d).", name, newCount, maxServings),
		AttendeeName:    name,
		AttendeeEmail:   attendee.Email,
		FoodServedCount: newCount,
		MaxFoodServings: maxServings,
	}
}

// resolveRegistration finds the attendee's verified registration: a direct
// one, or for team events one linked through any team the attendee belongs
// to for that event.
func (e *Engine) resolveRegistration(ctx context.Context, event storage.Event, attendeeID string) (storage.Registration, bool, error) {
	registration, err := e.registrations.GetRegistrationByAttendee(ctx, event.ID, attendeeID)
	switch {
	case err == nil:
		if registration.Verified {
			return registration, true, nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		return storage.Registration{}, false, err
	}

	if !event.TeamEvent {
		return storage.Registration{}, false, nil
	}

	teams, err := e.teams.ListTeamsByMember(ctx, event.ID, attendeeID)
	if err != nil {
		return storage.Registration{}, false, err
	}
	for _, team := range teams {
		registration, err := e.registrations.GetRegistrationByTeam(ctx, event.ID, team.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return storage.Registration{}, false, err
		}
		if registration.Verified {
			return registration, true, nil
		}
	}
	return storage.Registration{}, false, nil
}

// displayName prefers the full name, falls back to the username, then to a
// neutral default so malformed records still render.
func displayName(attendee storage.Attendee) string {
	if name := strings.TrimSpace(attendee.FullName); name != "" {
		return name
	}
	if name := strings.TrimSpace(attendee.Username); name != "" {
		return name
	}
	return "Participant"
}
