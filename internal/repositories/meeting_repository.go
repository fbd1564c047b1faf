package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/varad2005/healthnova-consult/internal/models"
)

var (
	ErrMeetingNotFound     = errors.New("meeting not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrDuplicateMeeting    = errors.New("meeting already exists for appointment")

	// ErrStateConflict means a guarded transition found the row in a
	// different state than expected. The caller must re-read the row
	// before deciding what to do; it must never retry blindly.
	ErrStateConflict = errors.New("meeting state changed concurrently")
)

// MeetingRepository stores consultation meeting rows. All state
// transitions are compare-and-swap: the UPDATE carries the expected
// current state in its WHERE clause, so of N concurrent callers exactly
// one wins and the rest get ErrStateConflict.
type MeetingRepository interface {
	Create(ctx context.Context, m *models.MeetingSession) error

	// Ensure creates the row if it does not exist yet and returns the
	// current row either way. Safe under concurrent callers.
	Ensure(ctx context.Context, m *models.MeetingSession) (*models.MeetingSession, error)

	GetByRoomID(ctx context.Context, roomID string) (*models.MeetingSession, error)
	GetByAppointmentID(ctx context.Context, appointmentID int64) (*models.MeetingSession, error)

	// Start moves SCHEDULED -> ACTIVE and stamps started_at.
	Start(ctx context.Context, roomID string) (*models.MeetingSession, error)

	// End moves ACTIVE -> ENDED, stamps ended_at and computes the call
	// duration from started_at.
	End(ctx context.Context, roomID, reason string) (*models.MeetingSession, error)

	// Cancel moves SCHEDULED -> CANCELLED.
	Cancel(ctx context.Context, roomID string) (*models.MeetingSession, error)

	// TouchPatientSeen records patient liveness on an ACTIVE meeting.
	TouchPatientSeen(ctx context.Context, roomID string, seenAt time.Time) error
}

// AppointmentDirectory is the consultation service's view of the booking
// system's appointments. The booking system owns the rows; this side
// only reads them and stamps the derived room id back.
type AppointmentDirectory interface {
	GetByID(ctx context.Context, appointmentID int64) (*models.Appointment, error)
	GetByRoomID(ctx context.Context, roomID string) (*models.Appointment, error)
	StampRoomID(ctx context.Context, appointmentID int64, roomID string) error
}

// AuditRepository persists one record per authorization decision on a
// gated operation, allowed or refused.
type AuditRepository interface {
	Record(ctx context.Context, rec *models.AuditRecord) error
}
