package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/varad2005/healthnova-consult/internal/models"
)

type PostgresAppointmentDirectory struct {
	db *sql.DB
}

func NewPostgresAppointmentDirectory(db *sql.DB) *PostgresAppointmentDirectory {
	return &PostgresAppointmentDirectory{db: db}
}

// Get appointment by ID
func (r *PostgresAppointmentDirectory) GetByID(ctx context.Context, appointmentID int64) (*models.Appointment, error) {
	const query = `
	SELECT id, room_id, doctor_id, patient_id, scheduled_at
	FROM consult_appointments
	WHERE id = $1
	LIMIT 1
	`

	var a models.Appointment

	err := r.db.QueryRowContext(ctx, query, appointmentID).Scan(
		&a.ID,
		&a.RoomID,
		&a.DoctorID,
		&a.PatientID,
		&a.ScheduledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}

	return &a, nil
}

// Get appointment by its stamped room ID
func (r *PostgresAppointmentDirectory) GetByRoomID(ctx context.Context, roomID string) (*models.Appointment, error) {
	const query = `
	SELECT id, room_id, doctor_id, patient_id, scheduled_at
	FROM consult_appointments
	WHERE room_id = $1
	LIMIT 1
	`

	var a models.Appointment

	err := r.db.QueryRowContext(ctx, query, roomID).Scan(
		&a.ID,
		&a.RoomID,
		&a.DoctorID,
		&a.PatientID,
		&a.ScheduledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}

	return &a, nil
}

// Stamp the derived room ID onto the appointment row. The derivation is
// deterministic, so re-stamping writes the same value.
func (r *PostgresAppointmentDirectory) StampRoomID(ctx context.Context, appointmentID int64, roomID string) error {
	const query = `
	UPDATE consult_appointments
	SET room_id = $1
	WHERE id = $2
	`

	res, err := r.db.ExecContext(ctx, query, roomID, appointmentID)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAppointmentNotFound
	}

	return nil
}

// MemoryAppointmentDirectory serves local development and tests, where
// no booking system is around to own the appointment rows.
type MemoryAppointmentDirectory struct {
	mu     sync.Mutex
	byID   map[int64]*models.Appointment
	byRoom map[string]int64
}

func NewMemoryAppointmentDirectory() *MemoryAppointmentDirectory {
	return &MemoryAppointmentDirectory{
		byID:   make(map[int64]*models.Appointment),
		byRoom: make(map[string]int64),
	}
}

// Seed loads appointment rows, standing in for the booking system.
func (r *MemoryAppointmentDirectory) Seed(appts ...*models.Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range appts {
		c := *a
		r.byID[c.ID] = &c
		if c.RoomID != "" {
			r.byRoom[c.RoomID] = c.ID
		}
	}
}

func (r *MemoryAppointmentDirectory) GetByID(ctx context.Context, appointmentID int64) (*models.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[appointmentID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}

	c := *a
	return &c, nil
}

func (r *MemoryAppointmentDirectory) GetByRoomID(ctx context.Context, roomID string) (*models.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byRoom[roomID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}

	c := *r.byID[id]
	return &c, nil
}

func (r *MemoryAppointmentDirectory) StampRoomID(ctx context.Context, appointmentID int64, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[appointmentID]
	if !ok {
		return ErrAppointmentNotFound
	}

	a.RoomID = roomID
	r.byRoom[roomID] = appointmentID
	return nil
}
