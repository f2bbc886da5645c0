package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lanternfest/platform/internal/services/gate/qrtoken"
	"github.com/lanternfest/platform/internal/services/gate/storage"
)

// fakeStore implements every storage interface over in-memory maps so the
// rule ladder can be exercised end to end, including mutations.
type fakeStore struct {
	attendees     map[string]storage.Attendee
	events        map[string]storage.Event
	registrations map[string]*storage.Registration
	teams         []storage.Team
	failures      map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		attendees:     make(map[string]storage.Attendee),
		events:        make(map[string]storage.Event),
		registrations: make(map[string]*storage.Registration),
		failures:      make(map[string]error),
	}
}

func (f *fakeStore) GetAttendee(ctx context.Context, id string) (storage.Attendee, error) {
	if err := f.failures["GetAttendee"]; err != nil {
		return storage.Attendee{}, err
	}
	attendee, ok := f.attendees[id]
	if !ok {
		return storage.Attendee{}, storage.ErrNotFound
	}
	return attendee, nil
}

func (f *fakeStore) GetAttendeeByEmail(ctx context.Context, email string) (storage.Attendee, error) {
	for _, attendee := range f.attendees {
		if attendee.Email == email {
			return attendee, nil
		}
	}
	return storage.Attendee{}, storage.ErrNotFound
}

func (f *fakeStore) MarkEmailVerified(ctx context.Context, id string) error {
	return nil
}

func (f *fakeStore) GetEvent(ctx context.Context, id string) (storage.Event, error) {
	if err := f.failures["GetEvent"]; err != nil {
		return storage.Event{}, err
	}
	event, ok := f.events[id]
	if !ok {
		return storage.Event{}, storage.ErrNotFound
	}
	return event, nil
}

func (f *fakeStore) GetRegistrationByAttendee(ctx context.Context, eventID, attendeeID string) (storage.Registration, error) {
	if err := f.failures["GetRegistrationByAttendee"]; err != nil {
		return storage.Registration{}, err
	}
	for _, registration := range f.registrations {
		if registration.EventID == eventID && registration.AttendeeID == attendeeID {
			return *registration, nil
		}
	}
	return storage.Registration{}, storage.ErrNotFound
}

func (f *fakeStore) GetRegistrationByTeam(ctx context.Context, eventID, teamID string) (storage.Registration, error) {
	for _, registration := range f.registrations {
		if registration.EventID == eventID && registration.TeamID == teamID {
			return *registration, nil
		}
	}
	return storage.Registration{}, storage.ErrNotFound
}

func (f *fakeStore) SetCheckedIn(ctx context.Context, registrationID, checkedInBy string, at time.Time) error {
	if err := f.failures["SetCheckedIn"]; err != nil {
		return err
	}
	registration, ok := f.registrations[registrationID]
	if !ok {
		return storage.ErrNotFound
	}
	registration.CheckedIn = true
	registration.CheckedInAt = at
	registration.CheckedInBy = checkedInBy
	return nil
}

func (f *fakeStore) AddFoodServing(ctx context.Context, registrationID string, newCount int, at time.Time) error {
	if err := f.failures["AddFoodServing"]; err != nil {
		return err
	}
	registration, ok := f.registrations[registrationID]
	if !ok {
		return storage.ErrNotFound
	}
	registration.FoodServedCount = newCount
	registration.LastFoodServedAt = at
	return nil
}

func (f *fakeStore) ListTeamsByMember(ctx context.Context, eventID, attendeeID string) ([]storage.Team, error) {
	if err := f.failures["ListTeamsByMember"]; err != nil {
		return nil, err
	}
	var matched []storage.Team
	for _, team := range f.teams {
		if team.EventID != eventID {
			continue
		}
		for _, member := range team.MemberIDs {
			if member == attendeeID {
				matched = append(matched, team)
				break
			}
		}
	}
	return matched, nil
}

type testEnv struct {
	engine *Engine
	store  *fakeStore
	codec  *qrtoken.Codec
	now    *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	store := newFakeStore()
	codec := qrtoken.NewCodec(qrtoken.Config{Secret: "engine-test-secret"})
	eng := New(store, store, store, store, codec)
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	current := now
	eng.clock = func() time.Time { return current }
	return testEnv{engine: eng, store: store, codec: codec, now: &current}
}

func (env testEnv) seedAttendee(id string) storage.Attendee {
	attendee := storage.Attendee{
		ID:       id,
		Username: "lantern_" + id,
		FullName: "Lan Tern " + id,
		Email:    id + "@example.com",
	}
	env.store.attendees[id] = attendee
	return attendee
}

func (env testEnv) seedEvent(id string, event storage.Event) storage.Event {
	event.ID = id
	if event.Name == "" {
		event.Name = "Event " + id
	}
	env.store.events[id] = event
	return event
}

func (env testEnv) seedRegistration(id string, registration storage.Registration) *storage.Registration {
	registration.ID = id
	env.store.registrations[id] = &registration
	return env.store.registrations[id]
}

func (env testEnv) scan(eventID, attendeeID string, action Action) Verdict {
	return env.engine.PerformCheckIn(context.Background(), Request{
		EventID:     eventID,
		QRPayload:   env.codec.Encode(attendeeID),
		Action:      action,
		CheckedInBy: "operator-1",
	})
}

func TestEntryChecksInVerifiedRegistration(t *testing.T) {
	env := newTestEnv(t)
	env.seedAttendee("att-1")
	env.seedEvent("ev-1", storage.Event{})
	registration := env.seedRegistration("reg-1", storage.Registration{
		EventID: "ev-1", AttendeeID: "att-1", Verified: true,
	})

	verdict := env.scan("ev-1", "att-1", ActionEntry)
	if !verdict.Allowed || verdict.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", verdict)
	}
	if verdict.AttendeeName != "Lan Tern att-1" {
		t.Fatalf("expected full name, got %q", verdict.AttendeeName)
	}
	if !registration.CheckedIn {
		t.Fatal("expected registration to be checked in")
	}
	if registration.CheckedInBy != "operator-1" {
		t.Fatalf("expected operator stamp, got %q", registration.CheckedInBy)
	}
	if !registration.CheckedInAt.Equal(*env.now) {
		t.Fatalf("expected check-in timestamp %v, got %v", *env.now, registration.CheckedInAt)
	}
}

func TestEntryRepeatScanWarnsWithoutMutation(t *testing.T) {
	env := newTestEnv(t)
	env.seedAttendee("att-1")
	env.seedEvent("ev-1", storage.Event{})
	env.seedRegistration("reg-1", storage.Registration{
		EventID: "ev-1", AttendeeID: "att-1", Verified: true,
	})

	first := env.scan("ev-1", "att-1", ActionEntry)
	if first.Status != StatusSuccess {
		t.Fatalf("expected first scan success, got %+v", first)
	}
	checkedInAt := env.store.registrations["reg-1"].CheckedInAt

	*env.now = env.now.Add(5 * time.Minute)
	second := env.scan("ev-1", "att-1", ActionEntry)
	if !second.Allowed || second.Status != StatusWarning || !second.Duplicate {
		t.Fatalf("expected duplicate warning, got %+v", second)
	}
	if !env.store.registrations["reg-1"].CheckedInAt.Equal(checkedInAt) {
		t.Fatal("expected check-in timestamp to be unchanged")
	}
}

func TestFoodSingleServingThenDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.seedAttendee("att-1")
	env.seedEvent("ev-1", storage.Event{FoodProvided: true, MaxFoodServings: 1})
	env.seedRegistration("reg-1", storage.Registration{
		EventID: "ev-1", AttendeeID: "att-1", Verified: true, CheckedIn: true,
	})

	first := env.scan("ev-1", "att-1", ActionFood)
	if !first.Allowed || first.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", first)
	}
	if first.FoodServedCount != 1 || first.MaxFoodServings != 1 {
		t.Fatalf("expected 1/1 servings, got %d/%d", first.FoodServedCount, first.MaxFoodServings)
	}

	second := env.scan("ev-1", "att-1", ActionFood)
	if second.Allowed || second.Status != StatusDenied || !second.Duplicate {
		t.Fatalf("expected duplicate denial, got %+v", second)
	}
	if second.FoodServedCount != 1 || second.MaxFoodServings != 1 {
		t.Fatalf("expected 1/1 reported, got %d/%d", second.FoodServedCount, second.MaxFoodServings)
	}
}

func TestFoodCooldownThenSecondServing(t *testing.T) {
	env := newTestEnv(t)
	env.seedAttendee("att-1")
	env.seedEvent("ev-1", storage.Event{FoodProvided: true, MaxFoodServings: 2})
	env.seedRegistration("reg-1", storage.Registration{
		EventID: "ev-1", AttendeeID: "att-1", Verified: true, CheckedIn: true,
	})

	first := env.scan("ev-1", "att-1", ActionFood)
	if first.Status != StatusSuccess {
		t.Fatalf("expected first serving, got %+v", first)
	}

	*env.now = env.now.Add(30 * time.Minute)
	blocked := env.scan("ev-1", "att-1", ActionFood)
	if blocked.Allowed || blocked.Status != StatusDenied || !blocked.Duplicate {
		t.Fatalf("expected cooldown denial, got %+v", blocked)
	}
	if blocked.WaitMinutes != 90 {
		t.Fatalf("expected 90 minute wait, got %d", blocked.WaitMinutes)
	}

	*env.now = env.now.Add(91 * time.Minute)
	second := env.scan("ev-1", "att-1", ActionFood)
	if !second.Allowed || second.Status != StatusSuccess {
		t.Fatalf("expected second serving after cooldown, got %+v", second)
	}
	if second.FoodServedCount != 2 {
		t.Fatalf("expected serving count 2, got %d", second.FoodServedCount)
	}
}

func TestFoodWaitMinutesRoundsUp(t *testing.T) {
	env := newTestEnv(t)
	env.seedAttendee("att-1")
	env.seedEvent("ev-1", storage.Event{FoodProvided: true, MaxFoodServings: 2})
	env.seedRegistration("reg-1", storage.Registration{
		EventID: "ev-1", AttendeeID: "att-1", Verified: true, CheckedIn: true,
		FoodServedCount:  1,
		LastFoodServedAt: env.now.Add(-119*time.Minute - 30*time.Second),
	})

	verdict := env.scan("ev-1", "att-1", ActionFood)
	if verdict.Status != StatusDenied {
		t.Fatalf("expected denial, got %+v", verdict)
	}
	if verdict.WaitMinutes != 1 {
		t.Fatalf("expected 30s remaining to round up to 1 minute, got %d", verdict.WaitMinutes)
	}
}

func TestFoodRequiresCheckInFirst(t *testing.T) {
	env := newTestEnv(t)
	env.seedAttendee("att-1")
	env.seedEvent("ev-1", storage.Event{FoodProvided: true, MaxFoodServings: 1})
	env.seedRegistration("reg-1", storage.Registration{
		EventID: "ev-1", AttendeeID: "att-1", Verified: true,
	})

	verdict := env.scan("ev-1", "att-1", ActionFood)
	if verdict.Allowed || verdict.Status != StatusDenied {
		t.Fatalf("expected denial, got %+v", verdict)
	}
	if env.store.registrations["reg-1"].FoodServedCount != 0 {
		t.Fatal("expected no serving recorded")
	}
}

func TestFoodAtEventWithoutFoodIsError(t *testing.T) {
	env := newTestEnv(t)
	env.seedAttendee("att-1")
	env.seedEvent("ev-1", storage.Event{FoodProvided: false})
	env.seedRegistration("reg-1", storage.Registration{
		EventID: "ev-1", AttendeeID: "att-1", Verified: true, CheckedIn: true,
	})

	verdict := env.scan("ev-1", "att-1", ActionFood)
	if verdict.Status != StatusError {
		t.Fatalf("expected error status, got %+v", verdict)
	}
}

func TestFoodMaxServingsFloorsAtOne(t *testing.T) {
	env := newTestEnv(t)
	env.seedAttendee("att-1")
	// A zero-valued maximum still allows one serving.
	env.seedEvent("ev-1", storage.Event{FoodProvided: true, MaxFoodServings: 0})
	env.seedRegistration("reg-1", storage.Registration{
		EventID: "ev-1", AttendeeID: "att-1", Verified: true, CheckedIn: true,
	})

	verdict := env.scan("ev-1", "att-1", ActionFood)
	if verdict.Status != StatusSuccess || verdict.MaxFoodServings != 1 {
		t.Fatalf("expected one allowed serving, got %+v", verdict)
	}
}

func TestTeamEventResolvesRegistrationThroughTeam(t *testing.T) {
	env := newTestEnv(t)
	env.seedAttendee("att-1")
	env.seedEvent("ev-1", storage.Event{TeamEvent: true})
	env.store.teams = []storage.Team{
		{ID: "team-other", EventID: "ev-1", MemberIDs: []string{"att-9"}},
		{ID: "team-1", EventID: "ev-1", MemberIDs: []string{"att-2", "att-1"}},
	}
	registration := env.seedRegistration("reg-1", storage.Registration{
		EventID: "ev-1", TeamID: "team-1", Verified: true,
	})

	verdict := env.scan("ev-1", "att-1", ActionEntry)
	if !verdict.Allowed || verdict.Status != StatusSuccess {
		t.Fatalf("expected team member entry to succeed, got %+v", verdict)
	}
	if !registration.CheckedIn {
		t.Fatal("expected team registration to be checked in")
	}
}

func TestUnregisteredAttendeeDeniedWithName(t *testing.T) {
	env := newTestEnv(t)
	env.seedAttendee("att-1")
	env.seedEvent("ev-1", storage.Event{Name: "Lantern Parade"})

	verdict := env.scan("ev-1", "att-1", ActionEntry)
	if verdict.Allowed || verdict.Status != StatusDenied {
		t.Fatalf("expected denial, got %+v", verdict)
	}
	if verdict.Message != "Lan Tern att-1 is not registered for Lantern Parade." {
		t.Fatalf("unexpected message %q", verdict.Message)
	}
	if verdict.AttendeeName == "" || verdict.AttendeeEmail == "" {
		t.Fatalf("expected attendee fields populated, got %+v", verdict)
	}
}

func TestUnverifiedRegistrationIsDenied(t *testing.T) {
	env := newTestEnv(t)
	env.seedAttendee("att-1")
	env.seedEvent("ev-1", storage.Event{})
	env.seedRegistration("reg-1", storage.Registration{
		EventID: "ev-1", AttendeeID: "att-1", Verified: false,
	})

	verdict := env.scan("ev-1", "att-1", ActionEntry)
	if verdict.Allowed || verdict.Status != StatusDenied {
		t.Fatalf("expected unverified registration denial, got %+v", verdict)
	}
}

func TestDisplayNameFallbacks(t *testing.T) {
	env := newTestEnv(t)
	env.seedEvent("ev-1", storage.Event{Name: "Lantern Parade"})
	env.store.attendees["att-1"] = storage.Attendee{ID: "att-1", Username: "glowfan"}
	env.store.attendees["att-2"] = storage.Attendee{ID: "att-2"}

	verdict := env.scan("ev-1", "att-1", ActionEntry)
	if verdict.AttendeeName != "glowfan" {
		t.Fatalf("expected username fallback, got %q", verdict.AttendeeName)
	}
	verdict = env.scan("ev-1", "att-2", ActionEntry)
	if verdict.AttendeeName != "Participant" {
		t.Fatalf("expected default name, got %q", verdict.AttendeeName)
	}
}

func TestInvalidQRDeniedWithoutAttendeeDetail(t *testing.T) {
	env := newTestEnv(t)
	env.seedAttendee("att-1")
	env.seedEvent("ev-1", storage.Event{})

	valid := env.codec.Encode("att-1")
	for name, payload := range map[string]string{
		"wrong prefix": "zzid" + valid[4:],
		"truncated":    valid[:len(valid)-6],
		"tampered":     valid[:len(valid)-1] + "@",
		"garbage":      "not-a-token",
	} {
		verdict := env.engine.PerformCheckIn(context.Background(), Request{
			EventID: "ev-1", QRPayload: payload, Action: ActionEntry, CheckedInBy: "operator-1",
		})
		if verdict.Allowed || verdict.Status != StatusDenied {
			t.Fatalf("expected denial for %s payload, got %+v", name, verdict)
		}
		if verdict.Message != "Invalid QR. Entry denied." {
			t.Fatalf("expected generic message for %s payload, got %q", name, verdict.Message)
		}
		if verdict.AttendeeName != "" || verdict.AttendeeEmail != "" {
			t.Fatalf("expected no attendee fields for %s payload, got %+v", name, verdict)
		}
	}
}

func TestStructuralValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	env.seedAttendee("att-1")
	env.seedEvent("ev-1", storage.Event{})
	payload := env.codec.Encode("att-1")

	cases := map[string]Request{
		"missing event":   {QRPayload: payload, Action: ActionEntry},
		"missing payload": {EventID: "ev-1", Action: ActionEntry},
		"missing action":  {EventID: "ev-1", QRPayload: payload},
		"unknown action":  {EventID: "ev-1", QRPayload: payload, Action: "dessert"},
	}
	for name, request := range cases {
		verdict := env.engine.PerformCheckIn(context.Background(), request)
		if verdict.Status != StatusError {
			t.Fatalf("expected error for %s, got %+v", name, verdict)
		}
	}
}

func TestUnknownEventIsError(t *testing.T) {
	env := newTestEnv(t)
	env.seedAttendee("att-1")

	verdict := env.scan("ev-missing", "att-1", ActionEntry)
	if verdict.Status != StatusError {
		t.Fatalf("expected error for unknown event, got %+v", verdict)
	}
}

func TestStorageFailuresBecomeErrorVerdicts(t *testing.T) {
	for _, operation := range []string{
		"GetEvent",
		"GetAttendee",
		"GetRegistrationByAttendee",
		"SetCheckedIn",
	} {
		env := newTestEnv(t)
		env.seedAttendee("att-1")
		env.seedEvent("ev-1", storage.Event{})
		env.seedRegistration("reg-1", storage.Registration{
			EventID: "ev-1", AttendeeID: "att-1", Verified: true,
		})
		env.store.failures[operation] = fmt.Errorf("storage down")

		verdict := env.scan("ev-1", "att-1", ActionEntry)
		if verdict.Status != StatusError {
			t.Fatalf("expected error verdict when %s fails, got %+v", operation, verdict)
		}
	}
}

type panickingDecoder struct{}

func (panickingDecoder) Decode(string) (string, bool) { panic("decoder exploded") }

func TestPanicBecomesErrorVerdict(t *testing.T) {
	store := newFakeStore()
	eng := New(store, store, store, store, panickingDecoder{})

	verdict := eng.PerformCheckIn(context.Background(), Request{
		EventID: "ev-1", QRPayload: "anything", Action: ActionEntry,
	})
	if verdict.Status != StatusError {
		t.Fatalf("expected error verdict after panic, got %+v", verdict)
	}
}
