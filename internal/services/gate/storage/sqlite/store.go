// Package sqlite provides a SQLite-backed gate storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lanternfest/platform/internal/platform/id"
	"github.com/lanternfest/platform/internal/platform/storage/sqlitemigrate"
	"github.com/lanternfest/platform/internal/services/gate/storage"
	"github.com/lanternfest/platform/internal/services/gate/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists gate state in SQLite.
type Store struct {
	sqlDB *sql.DB
	clock func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite gate store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, clock: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutAttendee inserts or replaces an attendee record. Used by registration
// import and tests.
func (s *Store) PutAttendee(ctx context.Context, attendee storage.Attendee) error {
	if strings.TrimSpace(attendee.ID) == "" {
		return fmt.Errorf("attendee id is required")
	}
	if strings.TrimSpace(attendee.Email) == "" {
		return fmt.Errorf("attendee email is required")
	}
	now := toMillis(s.clock())
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO attendees (id, username, full_name, email, email_verified, role, permissions, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   username = excluded.username,
		   full_name = excluded.full_name,
		   email = excluded.email,
		   email_verified = excluded.email_verified,
		   role = excluded.role,
		   permissions = excluded.permissions,
		   updated_at = excluded.updated_at`,
		attendee.ID,
		attendee.Username,
		attendee.FullName,
		normalizeEmail(attendee.Email),
		boolToInt(attendee.EmailVerified),
		attendee.Role,
		strings.Join(attendee.Permissions, ","),
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("put attendee: %w", err)
	}
	return nil
}

// GetAttendee returns one attendee by ID.
func (s *Store) GetAttendee(ctx context.Context, id string) (storage.Attendee, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, username, full_name, email, email_verified, role, permissions
		 FROM attendees WHERE id = ?`,
		id,
	)
	return scanAttendee(row)
}

// GetAttendeeByEmail returns one attendee by normalized email.
func (s *Store) GetAttendeeByEmail(ctx context.Context, email string) (storage.Attendee, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, username, full_name, email, email_verified, role, permissions
		 FROM attendees WHERE email = ?`,
		normalizeEmail(email),
	)
	return scanAttendee(row)
}

// MarkEmailVerified flags the attendee's email address as verified.
func (s *Store) MarkEmailVerified(ctx context.Context, id string) error {
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE attendees SET email_verified = 1, updated_at = ? WHERE id = ?`,
		toMillis(s.clock()),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark email verified rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PutEvent inserts or replaces an event record.
func (s *Store) PutEvent(ctx context.Context, event storage.Event) error {
	if strings.TrimSpace(event.ID) == "" {
		return fmt.Errorf("event id is required")
	}
	if strings.TrimSpace(event.Name) == "" {
		return fmt.Errorf("event name is required")
	}
	maxServings := event.MaxFoodServings
	if maxServings < 1 {
		maxServings = 1
	}
	now := toMillis(s.clock())
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO events (id, name, team_event, food_provided, max_food_servings, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name,
		   team_event = excluded.team_event,
		   food_provided = excluded.food_provided,
		   max_food_servings = excluded.max_food_servings,
		   updated_at = excluded.updated_at`,
		event.ID,
		event.Name,
		boolToInt(event.TeamEvent),
		boolToInt(event.FoodProvided),
		maxServings,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("put event: %w", err)
	}
	return nil
}

// GetEvent returns one event by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (storage.Event, error) {
	var (
		event        storage.Event
		teamEvent    int64
		foodProvided int64
	)
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, name, team_event, food_provided, max_food_servings FROM events WHERE id = ?`,
		id,
	)
	err := row.Scan(&event.ID, &event.Name, &teamEvent, &foodProvided, &event.MaxFoodServings)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Event{}, storage.ErrNotFound
		}
		return storage.Event{}, fmt.Errorf("get event: %w", err)
	}
	event.TeamEvent = teamEvent != 0
	event.FoodProvided = foodProvided != 0
	return event, nil
}

// PutTeam inserts or replaces a team and its membership rows.
func (s *Store) PutTeam(ctx context.Context, team storage.Team) error {
	if strings.TrimSpace(team.ID) == "" {
		return fmt.Errorf("team id is required")
	}
	if strings.TrimSpace(team.EventID) == "" {
		return fmt.Errorf("team event id is required")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put team: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO teams (id, event_id, name, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET event_id = excluded.event_id, name = excluded.name`,
		team.ID, team.EventID, team.Name, toMillis(s.clock()),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("put team: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = ?`, team.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("reset team members: %w", err)
	}
	for _, memberID := range team.MemberIDs {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO team_members (team_id, attendee_id) VALUES (?, ?)`,
			team.ID, memberID,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("put team member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put team: %w", err)
	}
	return nil
}

// ListTeamsByMember returns every team for the event that includes the
// attendee.
func (s *Store) ListTeamsByMember(ctx context.Context, eventID, attendeeID string) ([]storage.Team, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT t.id, t.event_id, t.name
		 FROM teams t
		 JOIN team_members m ON m.team_id = t.id
		 WHERE t.event_id = ? AND m.attendee_id = ?
		 ORDER BY t.id`,
		eventID, attendeeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list teams by member: %w", err)
	}
	defer rows.Close()

	var teams []storage.Team
	for rows.Next() {
		var team storage.Team
		if err := rows.Scan(&team.ID, &team.EventID, &team.Name); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate teams: %w", err)
	}
	return teams, nil
}

// PutRegistration inserts or replaces a registration record, minting an id
// when the import row carries none. The legacy food_served flag can be
// seeded through SeedLegacyFoodServed for migration-path tests and imports.
func (s *Store) PutRegistration(ctx context.Context, registration storage.Registration) error {
	if strings.TrimSpace(registration.ID) == "" {
		newID, err := id.NewID()
		if err != nil {
			return fmt.Errorf("mint registration id: %w", err)
		}
		registration.ID = newID
	}
	if strings.TrimSpace(registration.EventID) == "" {
		return fmt.Errorf("registration event id is required")
	}
	if strings.TrimSpace(registration.AttendeeID) == "" && strings.TrimSpace(registration.TeamID) == "" {
		return fmt.Errorf("registration needs an attendee or a team")
	}
	now := toMillis(s.clock())
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO registrations (
		   id, event_id, attendee_id, team_id, verified,
		   checked_in, checked_in_at, checked_in_by,
		   food_served_count, last_food_served_at,
		   created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   verified = excluded.verified,
		   checked_in = excluded.checked_in,
		   checked_in_at = excluded.checked_in_at,
		   checked_in_by = excluded.checked_in_by,
		   food_served_count = excluded.food_served_count,
		   last_food_served_at = excluded.last_food_served_at,
		   updated_at = excluded.updated_at`,
		registration.ID,
		registration.EventID,
		nullString(registration.AttendeeID),
		nullString(registration.TeamID),
		boolToInt(registration.Verified),
		boolToInt(registration.CheckedIn),
		nullMillis(registration.CheckedInAt),
		nullString(registration.CheckedInBy),
		registration.FoodServedCount,
		nullMillis(registration.LastFoodServedAt),
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("put registration: %w", err)
	}
	return nil
}

// SeedLegacyFoodServed writes a registration row into the legacy shape:
// the boolean flag set and no serving count, as rows imported from the old
// registration system look.
func (s *Store) SeedLegacyFoodServed(ctx context.Context, registrationID string, served bool) error {
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE registrations SET food_served = ?, food_served_count = NULL WHERE id = ?`,
		boolToInt(served),
		registrationID,
	)
	if err != nil {
		return fmt.Errorf("seed legacy food served: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("seed legacy rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetRegistrationByAttendee returns the attendee's direct registration for
// the event.
func (s *Store) GetRegistrationByAttendee(ctx context.Context, eventID, attendeeID string) (storage.Registration, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		registrationSelect+` WHERE event_id = ? AND attendee_id = ?`,
		eventID, attendeeID,
	)
	return scanRegistration(row)
}

// GetRegistrationByTeam returns the team's registration for the event.
func (s *Store) GetRegistrationByTeam(ctx context.Context, eventID, teamID string) (storage.Registration, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		registrationSelect+` WHERE event_id = ? AND team_id = ?`,
		eventID, teamID,
	)
	return scanRegistration(row)
}

// SetCheckedIn marks a registration checked in. The update is conditional on
// the row not being checked in yet, so a concurrent duplicate scan degrades
// to one winner; the loser surfaces ErrAlreadyExists.
func (s *Store) SetCheckedIn(ctx context.Context, registrationID, checkedInBy string, at time.Time) error {
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE registrations
		 SET checked_in = 1, checked_in_at = ?, checked_in_by = ?, updated_at = ?
		 WHERE id = ? AND checked_in = 0`,
		toMillis(at),
		checkedInBy,
		toMillis(s.clock()),
		registrationID,
	)
	if err != nil {
		return fmt.Errorf("set checked in: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set checked in rows: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetRegistrationByID(ctx, registrationID); err != nil {
			return err
		}
		return storage.ErrAlreadyExists
	}
	return nil
}

// AddFoodServing records one food serving by writing the new canonical
// count. The update is conditional on the stored count (in either its
// canonical or legacy shape) still being below newCount.
func (s *Store) AddFoodServing(ctx context.Context, registrationID string, newCount int, at time.Time) error {
	if newCount < 1 {
		return fmt.Errorf("new count must be at least 1")
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE registrations
		 SET food_served_count = ?, last_food_served_at = ?, updated_at = ?
		 WHERE id = ?
		   AND COALESCE(food_served_count,
		                CASE WHEN COALESCE(food_served, 0) != 0 THEN 1 ELSE 0 END) < ?`,
		newCount,
		toMillis(at),
		toMillis(s.clock()),
		registrationID,
		newCount,
	)
	if err != nil {
		return fmt.Errorf("add food serving: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("add food serving rows: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetRegistrationByID(ctx, registrationID); err != nil {
			return err
		}
		return storage.ErrAlreadyExists
	}
	return nil
}

// GetRegistrationByID returns one registration by primary key.
func (s *Store) GetRegistrationByID(ctx context.Context, id string) (storage.Registration, error) {
	row := s.sqlDB.QueryRowContext(ctx, registrationSelect+` WHERE id = ?`, id)
	return scanRegistration(row)
}

// registrationSelect normalizes the legacy food_served flag into the
// canonical count at read time, so callers never see the old shape.
const registrationSelect = `
SELECT id, event_id, attendee_id, team_id, verified,
       checked_in, checked_in_at, checked_in_by,
       COALESCE(food_served_count,
                CASE WHEN COALESCE(food_served, 0) != 0 THEN 1 ELSE 0 END),
       last_food_served_at
FROM registrations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (storage.Registration, error) {
	var (
		registration     storage.Registration
		attendeeID       sql.NullString
		teamID           sql.NullString
		verified         int64
		checkedIn        int64
		checkedInAt      sql.NullInt64
		checkedInBy      sql.NullString
		lastFoodServedAt sql.NullInt64
	)
	err := row.Scan(
		&registration.ID,
		&registration.EventID,
		&attendeeID,
		&teamID,
		&verified,
		&checkedIn,
		&checkedInAt,
		&checkedInBy,
		&registration.FoodServedCount,
		&lastFoodServedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Registration{}, storage.ErrNotFound
		}
		return storage.Registration{}, fmt.Errorf("scan registration: %w", err)
	}
	registration.AttendeeID = attendeeID.String
	registration.TeamID = teamID.String
	registration.Verified = verified != 0
	registration.CheckedIn = checkedIn != 0
	registration.CheckedInBy = checkedInBy.String
	if checkedInAt.Valid {
		registration.CheckedInAt = fromMillis(checkedInAt.Int64)
	}
	if lastFoodServedAt.Valid {
		registration.LastFoodServedAt = fromMillis(lastFoodServedAt.Int64)
	}
	return registration, nil
}

func scanAttendee(row rowScanner) (storage.Attendee, error) {
	var (
		attendee      storage.Attendee
		emailVerified int64
		permissions   string
	)
	err := row.Scan(
		&attendee.ID,
		&attendee.Username,
		&attendee.FullName,
		&attendee.Email,
		&emailVerified,
		&attendee.Role,
		&permissions,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Attendee{}, storage.ErrNotFound
		}
		return storage.Attendee{}, fmt.Errorf("scan attendee: %w", err)
	}
	attendee.EmailVerified = emailVerified != 0
	if permissions != "" {
		attendee.Permissions = strings.Split(permissions, ",")
	}
	return attendee, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

func nullString(value string) sql.NullString {
	trimmed := strings.TrimSpace(value)
	return sql.NullString{String: trimmed, Valid: trimmed != ""}
}

func nullMillis(value time.Time) sql.NullInt64 {
	if value.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(value), Valid: true}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
