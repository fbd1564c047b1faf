package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/varad2005/healthnova-consult/internal/dtos"
	"github.com/varad2005/healthnova-consult/internal/models"
	"github.com/varad2005/healthnova-consult/internal/repositories"
	"github.com/varad2005/healthnova-consult/internal/utils"
	"github.com/varad2005/healthnova-consult/internal/websocket"
)

// presenceOpTimeout bounds the database work done from room callbacks
// and timers, which have no request context of their own.
const presenceOpTimeout = 5 * time.Second

// MeetingService drives the consultation lifecycle. All state
// transitions go through the repository's guarded updates, so any
// number of concurrent callers agree on a single winner; this service
// only decides which transition to attempt and what happens around it.
type MeetingService struct {
	meetings     repositories.MeetingRepository
	appointments repositories.AppointmentDirectory
	gate         *AccessGate
	hub          *websocket.Hub

	roomSecret []byte
	grace      time.Duration

	mu        sync.Mutex
	watchdogs map[string]*time.Timer
}

func NewMeetingService(
	meetings repositories.MeetingRepository,
	appointments repositories.AppointmentDirectory,
	gate *AccessGate,
	hub *websocket.Hub,
	roomSecret []byte,
	grace time.Duration,
) *MeetingService {
	return &MeetingService{
		meetings:     meetings,
		appointments: appointments,
		gate:         gate,
		hub:          hub,
		roomSecret:   roomSecret,
		grace:        grace,
		watchdogs:    make(map[string]*time.Timer),
	}
}

// Schedule derives the room for an appointment, stamps it back onto the
// appointment row and creates the meeting row. Either participant may
// call it, any number of times; the first creation wins.
func (s *MeetingService) Schedule(ctx context.Context, userID int64, name string, appointmentID int64) (*dtos.MeetingResponse, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, repositories.ErrAppointmentNotFound) {
			return nil, ErrMeetingNotFound
		}
		return nil, err
	}

	if _, err := s.gate.AuthorizeAppointment(ctx, userID, appt, OpSchedule); err != nil {
		return nil, err
	}

	roomID := utils.DeriveRoomID(s.roomSecret, appt.ID)
	if appt.RoomID != roomID {
		if err := s.appointments.StampRoomID(ctx, appt.ID, roomID); err != nil {
			return nil, err
		}
		appt.RoomID = roomID
	}

	m, err := s.meetings.Ensure(ctx, s.meetingFor(appt))
	if err != nil {
		return nil, err
	}

	log.Info().Str("module", "lifecycle").Str("room_id", m.RoomID).
		Int64("appointment_id", appt.ID).Msg("meeting scheduled")

	return s.toResponse(m), nil
}

// Start moves the consultation to ACTIVE. Doctor only; of concurrent
// attempts exactly one succeeds.
func (s *MeetingService) Start(ctx context.Context, userID int64, name, roomID string) (*dtos.MeetingResponse, error) {
	s.materializeRoom(ctx, roomID)

	if _, _, err := s.gate.Authorize(ctx, userID, name, roomID, OpStart); err != nil {
		return nil, err
	}

	m, err := s.meetings.Start(ctx, roomID)
	if errors.Is(err, repositories.ErrStateConflict) {
		return nil, s.startConflict(ctx, roomID)
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("module", "lifecycle").Str("room_id", roomID).
		Str("state", string(m.State)).Msg("consultation started")

	return s.toResponse(m), nil
}

// End settles the consultation as ENDED. Doctor only. Ending an
// already ended consultation is not an error: the settled row comes
// back unchanged.
func (s *MeetingService) End(ctx context.Context, userID int64, name, roomID string) (*dtos.MeetingResponse, error) {
	s.materializeRoom(ctx, roomID)

	if _, _, err := s.gate.Authorize(ctx, userID, name, roomID, OpEnd); err != nil {
		return nil, err
	}

	m, err := s.endMeeting(ctx, roomID, models.EndReasonDoctor)
	if errors.Is(err, repositories.ErrStateConflict) {
		cur, gerr := s.meetings.GetByRoomID(ctx, roomID)
		if gerr != nil {
			return nil, ErrConflict
		}
		switch cur.State {
		case models.MeetingStateEnded:
			return s.toResponse(cur), nil
		case models.MeetingStateCancelled:
			return nil, &StateError{Sentinel: ErrSessionClosed, State: string(cur.State)}
		default:
			return nil, &StateError{Sentinel: ErrConflict, State: string(cur.State)}
		}
	}
	if err != nil {
		return nil, err
	}

	return s.toResponse(m), nil
}

// Cancel retires a consultation that never went live. Doctor only.
// Cancelling twice is not an error.
func (s *MeetingService) Cancel(ctx context.Context, userID int64, name, roomID string) (*dtos.MeetingResponse, error) {
	s.materializeRoom(ctx, roomID)

	if _, _, err := s.gate.Authorize(ctx, userID, name, roomID, OpCancel); err != nil {
		return nil, err
	}

	m, err := s.meetings.Cancel(ctx, roomID)
	if errors.Is(err, repositories.ErrStateConflict) {
		cur, gerr := s.meetings.GetByRoomID(ctx, roomID)
		if gerr != nil {
			return nil, ErrConflict
		}
		switch cur.State {
		case models.MeetingStateCancelled:
			return s.toResponse(cur), nil
		case models.MeetingStateEnded:
			return nil, &StateError{Sentinel: ErrSessionClosed, State: string(cur.State)}
		default:
			return nil, &StateError{Sentinel: ErrConflict, State: string(cur.State)}
		}
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("module", "lifecycle").Str("room_id", roomID).Msg("consultation cancelled")

	return s.toResponse(m), nil
}

// Status is the lightweight projection the consultation page polls.
func (s *MeetingService) Status(ctx context.Context, userID int64, name, roomID string) (*dtos.MeetingStatusResponse, error) {
	s.materializeRoom(ctx, roomID)

	grant, m, err := s.gate.Authorize(ctx, userID, name, roomID, OpStatus)
	if err != nil {
		return nil, err
	}

	canJoin := m.State == models.MeetingStateActive && !s.hub.Present(roomID, grant.Role)
	return &dtos.MeetingStatusResponse{
		RoomID:  roomID,
		State:   string(m.State),
		CanJoin: canJoin,
		Message: statusMessage(grant.Role, m.State, canJoin),
	}, nil
}

// Detail returns the full consultation projection, live presence
// included.
func (s *MeetingService) Detail(ctx context.Context, userID int64, name, roomID string) (*dtos.MeetingResponse, error) {
	s.materializeRoom(ctx, roomID)

	_, m, err := s.gate.Authorize(ctx, userID, name, roomID, OpDetail)
	if err != nil {
		return nil, err
	}

	return s.toResponse(m), nil
}

// Admit authorizes a WebSocket join and returns the grant the relay
// trusts from then on. Only a live consultation admits anyone. A
// patient whose grace window ran out while the watchdog had not fired
// yet settles the timeout here and is refused.
func (s *MeetingService) Admit(ctx context.Context, userID int64, name, roomID string) (*Grant, error) {
	s.materializeRoom(ctx, roomID)

	grant, m, err := s.gate.Authorize(ctx, userID, name, roomID, OpJoin)
	if err != nil {
		return nil, err
	}

	switch {
	case m.State == models.MeetingStateScheduled:
		return nil, ErrNotYetStarted
	case m.State.Terminal():
		return nil, ErrSessionClosed
	}

	if grant.Role == models.RolePatient && s.graceElapsed(m) {
		if _, err := s.endMeeting(ctx, roomID, models.EndReasonPatientTimeout); err != nil &&
			!errors.Is(err, repositories.ErrStateConflict) {
			return nil, err
		}
		return nil, ErrSessionClosed
	}

	return grant, nil
}

// StillActive re-reads the row after a socket joins; the session may
// have ended between admission and the room taking the connection.
func (s *MeetingService) StillActive(ctx context.Context, roomID string) bool {
	m, err := s.meetings.GetByRoomID(ctx, roomID)
	return err == nil && m.State == models.MeetingStateActive
}

// CloseIfSettled tears the live room down when the stored session has
// already reached a terminal state. Ending a session closes its room,
// but a join racing the end can re-open one; the store is the
// authority, so the late room is closed with the stored reason.
func (s *MeetingService) CloseIfSettled(ctx context.Context, roomID string) bool {
	m, err := s.meetings.GetByRoomID(ctx, roomID)
	if err != nil || !m.State.Terminal() {
		return false
	}

	log.Warn().Str("module", "ws").Str("room_id", roomID).
		Msg("session settled while a join was in flight, closing room")

	farewell := websocket.NewMessage(websocket.TypeSessionEnded,
		websocket.SessionEndedPayload{Reason: m.EndReason})
	s.hub.CloseRoom(roomID, &farewell)
	return true
}

// OnJoin runs on the room goroutine when a participant takes a slot.
func (s *MeetingService) OnJoin(roomID string, role models.Role) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
	defer cancel()

	log.Info().Str("module", "lifecycle").Str("room_id", roomID).
		Str("role", string(role)).Msg("participant joined")

	if role == models.RolePatient {
		s.disarmWatchdog(roomID)
		if err := s.meetings.TouchPatientSeen(ctx, roomID, time.Now().UTC()); err != nil {
			log.Error().Err(err).Str("module", "lifecycle").Str("room_id", roomID).
				Msg("patient liveness touch failed")
		}
	}
}

// OnLeave runs on the room goroutine when a participant gives up a
// slot. The doctor leaving ends the consultation; the patient leaving
// arms the grace watchdog.
func (s *MeetingService) OnLeave(roomID string, role models.Role) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
	defer cancel()

	log.Info().Str("module", "lifecycle").Str("room_id", roomID).
		Str("role", string(role)).Msg("participant left")

	switch role {
	case models.RoleDoctor:
		if _, err := s.endMeeting(ctx, roomID, models.EndReasonDoctorLeft); err != nil &&
			!errors.Is(err, repositories.ErrStateConflict) &&
			!errors.Is(err, repositories.ErrMeetingNotFound) {
			log.Error().Err(err).Str("module", "lifecycle").Str("room_id", roomID).
				Msg("ending after doctor left failed")
		}
	case models.RolePatient:
		if err := s.meetings.TouchPatientSeen(ctx, roomID, time.Now().UTC()); err != nil {
			log.Error().Err(err).Str("module", "lifecycle").Str("room_id", roomID).
				Msg("patient liveness touch failed")
		}
		s.armWatchdog(roomID)
	}
}

// Heartbeat refreshes the patient's liveness stamp on each keepalive
// frame, so the grace window measures true absence rather than time
// since connect.
func (s *MeetingService) Heartbeat(roomID string, role models.Role) {
	if role != models.RolePatient {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
	defer cancel()
	if err := s.meetings.TouchPatientSeen(ctx, roomID, time.Now().UTC()); err != nil {
		log.Error().Err(err).Str("module", "lifecycle").Str("room_id", roomID).
			Msg("patient liveness touch failed")
	}
}

// Shutdown ends every live consultation with the shutdown reason and
// tears the rooms down.
func (s *MeetingService) Shutdown(ctx context.Context) {
	for _, roomID := range s.hub.RoomIDs() {
		if _, err := s.endMeeting(ctx, roomID, models.EndReasonShutdown); err != nil &&
			!errors.Is(err, repositories.ErrStateConflict) &&
			!errors.Is(err, repositories.ErrMeetingNotFound) {
			log.Error().Err(err).Str("module", "lifecycle").Str("room_id", roomID).
				Msg("ending on shutdown failed")
		}
	}

	farewell := websocket.NewMessage(websocket.TypeSessionEnded,
		websocket.SessionEndedPayload{Reason: models.EndReasonShutdown})
	s.hub.Shutdown(&farewell)

	s.mu.Lock()
	for id, t := range s.watchdogs {
		t.Stop()
		delete(s.watchdogs, id)
	}
	s.mu.Unlock()
}

// endMeeting is the one path from ACTIVE to ENDED: guarded transition,
// watchdog disarm, farewell broadcast, room teardown.
func (s *MeetingService) endMeeting(ctx context.Context, roomID, reason string) (*models.MeetingSession, error) {
	m, err := s.meetings.End(ctx, roomID, reason)
	if err != nil {
		return nil, err
	}

	s.disarmWatchdog(roomID)

	farewell := websocket.NewMessage(websocket.TypeSessionEnded,
		websocket.SessionEndedPayload{Reason: reason})
	s.hub.CloseRoom(roomID, &farewell)

	log.Info().Str("module", "lifecycle").Str("room_id", roomID).
		Str("reason", reason).Int("duration_seconds", m.DurationSeconds).
		Msg("consultation ended")

	return m, nil
}

// armWatchdog (re)schedules the grace expiry for an absent patient.
func (s *MeetingService) armWatchdog(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.watchdogs[roomID]; ok {
		t.Stop()
	}
	s.watchdogs[roomID] = time.AfterFunc(s.grace, func() { s.expireGrace(roomID) })

	log.Debug().Str("module", "lifecycle").Str("room_id", roomID).
		Dur("grace", s.grace).Msg("grace watchdog armed")
}

func (s *MeetingService) disarmWatchdog(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.watchdogs[roomID]; ok {
		t.Stop()
		delete(s.watchdogs, roomID)
	}
}

// expireGrace fires when an absent patient's window runs out. It
// re-validates everything before ending: the meeting must still be
// live, the patient still gone, the window still elapsed. Firing late
// or twice is harmless; the guarded transition settles who wins.
func (s *MeetingService) expireGrace(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
	defer cancel()

	m, err := s.meetings.GetByRoomID(ctx, roomID)
	if err != nil || m.State != models.MeetingStateActive {
		return
	}
	if !s.graceElapsed(m) {
		return
	}

	if _, err := s.endMeeting(ctx, roomID, models.EndReasonPatientTimeout); err != nil &&
		!errors.Is(err, repositories.ErrStateConflict) {
		log.Error().Err(err).Str("module", "lifecycle").Str("room_id", roomID).
			Msg("grace expiry failed")
	}
}

// graceElapsed reports whether the patient has been gone longer than
// the grace window. A patient who never connected has no liveness
// anchor and never expires this way.
func (s *MeetingService) graceElapsed(m *models.MeetingSession) bool {
	return m.LastPatientSeenAt != nil &&
		!s.hub.Present(m.RoomID, models.RolePatient) &&
		time.Since(*m.LastPatientSeenAt) >= s.grace
}

// materializeRoom backfills the meeting row for a stamped room when the
// schedule call never ran. Best effort; the gate re-reads afterwards.
func (s *MeetingService) materializeRoom(ctx context.Context, roomID string) {
	_, err := s.meetings.GetByRoomID(ctx, roomID)
	if err == nil || !errors.Is(err, repositories.ErrMeetingNotFound) {
		return
	}

	appt, err := s.appointments.GetByRoomID(ctx, roomID)
	if err != nil {
		return
	}

	if _, err := s.meetings.Ensure(ctx, s.meetingFor(appt)); err != nil {
		log.Warn().Err(err).Str("module", "lifecycle").Str("room_id", roomID).
			Msg("backfilling meeting row failed")
	}
}

func (s *MeetingService) meetingFor(appt *models.Appointment) *models.MeetingSession {
	return &models.MeetingSession{
		ID:            uuid.New(),
		RoomID:        utils.DeriveRoomID(s.roomSecret, appt.ID),
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		State:         models.MeetingStateScheduled,
		ScheduledAt:   appt.ScheduledAt,
	}
}

func (s *MeetingService) startConflict(ctx context.Context, roomID string) error {
	m, err := s.meetings.GetByRoomID(ctx, roomID)
	if err != nil {
		return ErrConflict
	}
	if m.State.Terminal() {
		return &StateError{Sentinel: ErrSessionClosed, State: string(m.State)}
	}
	return &StateError{Sentinel: ErrConflict, State: string(m.State)}
}

func (s *MeetingService) toResponse(m *models.MeetingSession) *dtos.MeetingResponse {
	return &dtos.MeetingResponse{
		RoomID:          m.RoomID,
		AppointmentID:   m.AppointmentID,
		State:           string(m.State),
		ScheduledAt:     m.ScheduledAt,
		StartedAt:       m.StartedAt,
		EndedAt:         m.EndedAt,
		EndReason:       m.EndReason,
		DurationSeconds: m.DurationSeconds,
		DoctorPresent:   s.hub.Present(m.RoomID, models.RoleDoctor),
		PatientPresent:  s.hub.Present(m.RoomID, models.RolePatient),
	}
}

// statusMessage mirrors the consultation page's copy for each state.
func statusMessage(role models.Role, state models.MeetingState, canJoin bool) string {
	switch state {
	case models.MeetingStateScheduled:
		if role == models.RoleDoctor {
			return "Click Start Consultation to begin"
		}
		return "Waiting for doctor to start consultation..."
	case models.MeetingStateActive:
		if !canJoin {
			return "Already connected in another window"
		}
		return "Consultation is live - Click to join"
	case models.MeetingStateCancelled:
		return "Consultation was cancelled"
	default:
		return "Consultation has ended"
	}
}
