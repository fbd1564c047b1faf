package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/varad2005/healthnova-consult/internal/models"
	"github.com/varad2005/healthnova-consult/internal/repositories"
)

// Gated operations. Start, end and cancel belong to the doctor; the
// rest is open to both participants.
const (
	OpSchedule = "schedule"
	OpStart    = "start"
	OpEnd      = "end"
	OpCancel   = "cancel"
	OpJoin     = "join"
	OpStatus   = "status"
	OpDetail   = "detail"
)

var doctorOnlyOps = map[string]bool{
	OpStart:  true,
	OpEnd:    true,
	OpCancel: true,
}

// Audit outcomes.
const (
	OutcomeAllowed = "allowed"
	OutcomeRefused = "refused"
)

// Grant is the capability the gate hands out: proof that this user
// holds this role in this room. Everything downstream trusts the Grant
// and re-checks nothing.
type Grant struct {
	RoomID string
	Role   models.Role
	UserID int64
	Name   string
}

// AccessGate is the single authorization chokepoint for room-scoped
// operations. Roles are derived from the meeting row, never taken from
// the client. Every decision is recorded, allowed or refused.
type AccessGate struct {
	meetings repositories.MeetingRepository
	audit    repositories.AuditRepository
}

func NewAccessGate(meetings repositories.MeetingRepository, audit repositories.AuditRepository) *AccessGate {
	return &AccessGate{
		meetings: meetings,
		audit:    audit,
	}
}

// Authorize resolves the caller's role in the room and returns the
// grant plus the meeting row it was derived from. A room that does not
// exist and a room the caller is not bound to produce the same refusal,
// so room ids cannot be probed.
func (g *AccessGate) Authorize(ctx context.Context, userID int64, name, roomID, op string) (*Grant, *models.MeetingSession, error) {
	m, err := g.meetings.GetByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repositories.ErrMeetingNotFound) {
			g.record(ctx, userID, "", roomID, op, OutcomeRefused, "unknown room")
			return nil, nil, ErrForbidden
		}
		return nil, nil, err
	}

	role, ok := m.ParticipantRole(userID)
	if !ok {
		g.record(ctx, userID, "", roomID, op, OutcomeRefused, "not a participant")
		return nil, nil, ErrForbidden
	}

	if doctorOnlyOps[op] && role != models.RoleDoctor {
		g.record(ctx, userID, string(role), roomID, op, OutcomeRefused, "doctor only")
		return nil, nil, ErrDoctorOnly
	}

	g.record(ctx, userID, string(role), roomID, op, OutcomeAllowed, "")

	grant := &Grant{
		RoomID: roomID,
		Role:   role,
		UserID: userID,
		Name:   name,
	}
	return grant, m, nil
}

// AuthorizeAppointment gates operations that run before a room exists.
// The role comes from the appointment's own doctor/patient binding.
func (g *AccessGate) AuthorizeAppointment(ctx context.Context, userID int64, appt *models.Appointment, op string) (models.Role, error) {
	var role models.Role
	switch userID {
	case appt.DoctorID:
		role = models.RoleDoctor
	case appt.PatientID:
		role = models.RolePatient
	default:
		g.record(ctx, userID, "", appt.RoomID, op, OutcomeRefused, "not a participant")
		return "", ErrForbidden
	}

	g.record(ctx, userID, string(role), appt.RoomID, op, OutcomeAllowed, "")
	return role, nil
}

// record persists the decision and mirrors it to the log. A failed
// audit write is logged, not surfaced.
func (g *AccessGate) record(ctx context.Context, userID int64, role, roomID, op, outcome, detail string) {
	rec := &models.AuditRecord{
		ID:        uuid.New(),
		UserID:    userID,
		Role:      role,
		RoomID:    roomID,
		Operation: op,
		Outcome:   outcome,
		Detail:    detail,
	}
	if err := g.audit.Record(ctx, rec); err != nil {
		log.Error().Err(err).Str("module", "gate").Str("room_id", roomID).Msg("audit write failed")
	}

	evt := log.Info()
	if outcome == OutcomeRefused {
		evt = log.Warn()
	}
	evt.Str("module", "gate").
		Int64("user_id", userID).
		Str("room_id", roomID).
		Str("op", op).
		Str("outcome", outcome).
		Str("detail", detail).
		Msg("access decision")
}
