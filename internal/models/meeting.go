package models

import (
	"time"

	"github.com/google/uuid"
)

type MeetingState string

const (
	MeetingStateScheduled MeetingState = "SCHEDULED"
	MeetingStateActive    MeetingState = "ACTIVE"
	MeetingStateEnded     MeetingState = "ENDED"
	MeetingStateCancelled MeetingState = "CANCELLED"
)

// Terminal reports whether no further transitions are possible from s.
func (s MeetingState) Terminal() bool {
	return s == MeetingStateEnded || s == MeetingStateCancelled
}

// Reasons an ACTIVE meeting can reach ENDED.
const (
	EndReasonDoctor         = "ended_by_doctor"
	EndReasonDoctorLeft     = "doctor_left"
	EndReasonPatientTimeout = "patient_timeout"
	EndReasonShutdown       = "server_shutdown"
)

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Peer returns the other participant role in a two-party room.
func (r Role) Peer() Role {
	if r == RoleDoctor {
		return RolePatient
	}
	return RoleDoctor
}

func (r Role) Valid() bool {
	return r == RoleDoctor || r == RolePatient
}

// MeetingSession is the durable record for one consultation room.
// Exactly one row exists per room_id; the row is never deleted and is
// kept as an audit record after the meeting reaches a terminal state.
type MeetingSession struct {
	ID            uuid.UUID `db:"id"`
	RoomID        string    `db:"room_id"`
	AppointmentID int64     `db:"appointment_id"`
	DoctorID      int64     `db:"doctor_id"`
	PatientID     int64     `db:"patient_id"`

	State MeetingState `db:"state"`

	ScheduledAt       time.Time  `db:"scheduled_at"`
	StartedAt         *time.Time `db:"started_at"`
	EndedAt           *time.Time `db:"ended_at"`
	LastPatientSeenAt *time.Time `db:"last_patient_seen_at"`

	EndReason       string `db:"end_reason"`
	DurationSeconds int    `db:"duration_seconds"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ParticipantRole resolves which role userID holds in this meeting,
// or false if the user is not bound to it.
func (m *MeetingSession) ParticipantRole(userID int64) (Role, bool) {
	switch userID {
	case m.DoctorID:
		return RoleDoctor, true
	case m.PatientID:
		return RolePatient, true
	}
	return "", false
}

// Appointment is the slice of the booking system's record that the
// consultation core consumes. The booking system owns the full row.
type Appointment struct {
	ID          int64     `db:"id"`
	RoomID      string    `db:"room_id"`
	DoctorID    int64     `db:"doctor_id"`
	PatientID   int64     `db:"patient_id"`
	ScheduledAt time.Time `db:"scheduled_at"`
}

// AuditRecord captures one authorization decision on a gated operation.
type AuditRecord struct {
	ID        uuid.UUID `db:"id"`
	UserID    int64     `db:"user_id"`
	Role      string    `db:"role"`
	RoomID    string    `db:"room_id"`
	Operation string    `db:"operation"`
	Outcome   string    `db:"outcome"`
	Detail    string    `db:"detail"`
	CreatedAt time.Time `db:"created_at"`
}
