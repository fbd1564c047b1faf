package dtos

import "time"

// RoomURI binds the room id path parameter. The roomid rule rejects
// anything that does not have the shape of a derived room identifier.
type RoomURI struct {
	RoomID string `uri:"room_id" binding:"required,roomid"`
}

// AppointmentURI binds the appointment id path parameter.
type AppointmentURI struct {
	AppointmentID int64 `uri:"appointment_id" binding:"required,min=1"`
}

// MeetingResponse is the full projection of one consultation.
type MeetingResponse struct {
	RoomID          string     `json:"room_id"`
	AppointmentID   int64      `json:"appointment_id"`
	State           string     `json:"state"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	EndReason       string     `json:"end_reason,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	DoctorPresent   bool       `json:"doctor_present"`
	PatientPresent  bool       `json:"patient_present"`
}

// MeetingStatusResponse is what the consultation page polls while
// waiting for the call to begin.
type MeetingStatusResponse struct {
	RoomID  string `json:"room_id"`
	State   string `json:"state"`
	CanJoin bool   `json:"can_join"`
	Message string `json:"message"`
}
