package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/varad2005/healthnova-consult/internal/models"
)

const meetingColumns = `
		id,
		room_id,
		appointment_id,
		doctor_id,
		patient_id,
		state,
		scheduled_at,
		started_at,
		ended_at,
		last_patient_seen_at,
		end_reason,
		duration_seconds,
		created_at,
		updated_at`

type PostgresMeetingRepository struct {
	db *sql.DB
}

func NewPostgresMeetingRepository(db *sql.DB) *PostgresMeetingRepository {
	return &PostgresMeetingRepository{db: db}
}

func scanMeeting(row *sql.Row) (*models.MeetingSession, error) {
	var m models.MeetingSession

	err := row.Scan(
		&m.ID,
		&m.RoomID,
		&m.AppointmentID,
		&m.DoctorID,
		&m.PatientID,
		&m.State,
		&m.ScheduledAt,
		&m.StartedAt,
		&m.EndedAt,
		&m.LastPatientSeenAt,
		&m.EndReason,
		&m.DurationSeconds,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// Create a new meeting row for an appointment
func (r *PostgresMeetingRepository) Create(ctx context.Context, m *models.MeetingSession) error {
	const query = `
	INSERT INTO consult_meetings (
		id,
		room_id,
		appointment_id,
		doctor_id,
		patient_id,
		state,
		scheduled_at,
		created_at,
		updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		m.ID,
		m.RoomID,
		m.AppointmentID,
		m.DoctorID,
		m.PatientID,
		m.State,
		m.ScheduledAt,
	).Scan(&m.CreatedAt, &m.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
		return ErrDuplicateMeeting
	}

	return err
}

// Ensure the meeting row exists; under concurrent callers the first
// insert wins and everyone reads the same row back.
func (r *PostgresMeetingRepository) Ensure(ctx context.Context, m *models.MeetingSession) (*models.MeetingSession, error) {
	const query = `
	INSERT INTO consult_meetings (
		id,
		room_id,
		appointment_id,
		doctor_id,
		patient_id,
		state,
		scheduled_at,
		created_at,
		updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	ON CONFLICT (room_id) DO NOTHING
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		m.ID,
		m.RoomID,
		m.AppointmentID,
		m.DoctorID,
		m.PatientID,
		m.State,
		m.ScheduledAt,
	)
	if err != nil {
		return nil, err
	}

	return r.GetByRoomID(ctx, m.RoomID)
}

// Get meeting by room ID
func (r *PostgresMeetingRepository) GetByRoomID(ctx context.Context, roomID string) (*models.MeetingSession, error) {
	const query = `
	SELECT` + meetingColumns + `
	FROM consult_meetings
	WHERE room_id = $1
	LIMIT 1
	`

	m, err := scanMeeting(r.db.QueryRowContext(ctx, query, roomID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMeetingNotFound
	}

	return m, err
}

// Get meeting by appointment ID
func (r *PostgresMeetingRepository) GetByAppointmentID(ctx context.Context, appointmentID int64) (*models.MeetingSession, error) {
	const query = `
	SELECT` + meetingColumns + `
	FROM consult_meetings
	WHERE appointment_id = $1
	LIMIT 1
	`

	m, err := scanMeeting(r.db.QueryRowContext(ctx, query, appointmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMeetingNotFound
	}

	return m, err
}

// Start the consultation. The state guard in the WHERE clause makes
// this a compare-and-swap: only a SCHEDULED row transitions.
func (r *PostgresMeetingRepository) Start(ctx context.Context, roomID string) (*models.MeetingSession, error) {
	const query = `
	UPDATE consult_meetings
	SET
		state = $1,
		started_at = NOW(),
		updated_at = NOW()
	WHERE room_id = $2 AND state = $3
	RETURNING` + meetingColumns + `
	`

	m, err := scanMeeting(r.db.QueryRowContext(
		ctx,
		query,
		models.MeetingStateActive,
		roomID,
		models.MeetingStateScheduled,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.casMiss(ctx, roomID)
	}

	return m, err
}

// End the consultation and settle the call duration from started_at.
func (r *PostgresMeetingRepository) End(ctx context.Context, roomID, reason string) (*models.MeetingSession, error) {
	const query = `
	UPDATE consult_meetings
	SET
		state = $1,
		ended_at = NOW(),
		end_reason = $2,
		duration_seconds = COALESCE(CEIL(EXTRACT(EPOCH FROM (NOW() - started_at)))::int, 0),
		updated_at = NOW()
	WHERE room_id = $3 AND state = $4
	RETURNING` + meetingColumns + `
	`

	m, err := scanMeeting(r.db.QueryRowContext(
		ctx,
		query,
		models.MeetingStateEnded,
		reason,
		roomID,
		models.MeetingStateActive,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.casMiss(ctx, roomID)
	}

	return m, err
}

// Cancel a consultation that never went live.
func (r *PostgresMeetingRepository) Cancel(ctx context.Context, roomID string) (*models.MeetingSession, error) {
	const query = `
	UPDATE consult_meetings
	SET
		state = $1,
		updated_at = NOW()
	WHERE room_id = $2 AND state = $3
	RETURNING` + meetingColumns + `
	`

	m, err := scanMeeting(r.db.QueryRowContext(
		ctx,
		query,
		models.MeetingStateCancelled,
		roomID,
		models.MeetingStateScheduled,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.casMiss(ctx, roomID)
	}

	return m, err
}

// Record patient liveness while the call is ACTIVE. A touch on a row
// in any other state matches nothing, which is fine.
func (r *PostgresMeetingRepository) TouchPatientSeen(ctx context.Context, roomID string, seenAt time.Time) error {
	const query = `
	UPDATE consult_meetings
	SET last_patient_seen_at = $1, updated_at = NOW()
	WHERE room_id = $2 AND state = $3
	`

	_, err := r.db.ExecContext(ctx, query, seenAt, roomID, models.MeetingStateActive)
	return err
}

// casMiss tells apart "row missing" from "row in another state" after a
// guarded UPDATE matched nothing.
func (r *PostgresMeetingRepository) casMiss(ctx context.Context, roomID string) error {
	if _, err := r.GetByRoomID(ctx, roomID); err != nil {
		return err
	}

	return ErrStateConflict
}
