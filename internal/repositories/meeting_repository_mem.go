package repositories

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/varad2005/healthnova-consult/internal/models"
)

// MemoryMeetingRepository keeps meeting rows in process memory with the
// same guarded-transition semantics as the Postgres implementation. It
// backs local development and tests when no database is configured.
type MemoryMeetingRepository struct {
	mu     sync.Mutex
	byRoom map[string]*models.MeetingSession
	byAppt map[int64]string
}

func NewMemoryMeetingRepository() *MemoryMeetingRepository {
	return &MemoryMeetingRepository{
		byRoom: make(map[string]*models.MeetingSession),
		byAppt: make(map[int64]string),
	}
}

// cloneMeeting copies a row so callers never share the stored pointer.
// Timestamp pointer fields are replaced on update, never written
// through, so a shallow copy is enough.
func cloneMeeting(m *models.MeetingSession) *models.MeetingSession {
	c := *m
	return &c
}

func (r *MemoryMeetingRepository) Create(ctx context.Context, m *models.MeetingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byRoom[m.RoomID]; ok {
		return ErrDuplicateMeeting
	}
	if _, ok := r.byAppt[m.AppointmentID]; ok {
		return ErrDuplicateMeeting
	}

	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	r.byRoom[m.RoomID] = cloneMeeting(m)
	r.byAppt[m.AppointmentID] = m.RoomID
	return nil
}

func (r *MemoryMeetingRepository) Ensure(ctx context.Context, m *models.MeetingSession) (*models.MeetingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byRoom[m.RoomID]; ok {
		return cloneMeeting(existing), nil
	}

	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	r.byRoom[m.RoomID] = cloneMeeting(m)
	r.byAppt[m.AppointmentID] = m.RoomID
	return cloneMeeting(m), nil
}

func (r *MemoryMeetingRepository) GetByRoomID(ctx context.Context, roomID string) (*models.MeetingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byRoom[roomID]
	if !ok {
		return nil, ErrMeetingNotFound
	}
	return cloneMeeting(m), nil
}

func (r *MemoryMeetingRepository) GetByAppointmentID(ctx context.Context, appointmentID int64) (*models.MeetingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.byAppt[appointmentID]
	if !ok {
		return nil, ErrMeetingNotFound
	}
	return cloneMeeting(r.byRoom[roomID]), nil
}

func (r *MemoryMeetingRepository) Start(ctx context.Context, roomID string) (*models.MeetingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byRoom[roomID]
	if !ok {
		return nil, ErrMeetingNotFound
	}
	if m.State != models.MeetingStateScheduled {
		return nil, ErrStateConflict
	}

	now := time.Now().UTC()
	m.State = models.MeetingStateActive
	m.StartedAt = &now
	m.UpdatedAt = now
	return cloneMeeting(m), nil
}

func (r *MemoryMeetingRepository) End(ctx context.Context, roomID, reason string) (*models.MeetingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byRoom[roomID]
	if !ok {
		return nil, ErrMeetingNotFound
	}
	if m.State != models.MeetingStateActive {
		return nil, ErrStateConflict
	}

	now := time.Now().UTC()
	m.State = models.MeetingStateEnded
	m.EndedAt = &now
	m.EndReason = reason
	if m.StartedAt != nil {
		m.DurationSeconds = int(math.Ceil(now.Sub(*m.StartedAt).Seconds()))
	}
	m.UpdatedAt = now
	return cloneMeeting(m), nil
}

func (r *MemoryMeetingRepository) Cancel(ctx context.Context, roomID string) (*models.MeetingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byRoom[roomID]
	if !ok {
		return nil, ErrMeetingNotFound
	}
	if m.State != models.MeetingStateScheduled {
		return nil, ErrStateConflict
	}

	now := time.Now().UTC()
	m.State = models.MeetingStateCancelled
	m.UpdatedAt = now
	return cloneMeeting(m), nil
}

func (r *MemoryMeetingRepository) TouchPatientSeen(ctx context.Context, roomID string, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byRoom[roomID]
	if !ok || m.State != models.MeetingStateActive {
		return nil
	}

	seen := seenAt
	m.LastPatientSeenAt = &seen
	m.UpdatedAt = time.Now().UTC()
	return nil
}
