package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/varad2005/healthnova-consult/internal/models"
	"github.com/varad2005/healthnova-consult/internal/repositories"
	"github.com/varad2005/healthnova-consult/internal/utils"
	"github.com/varad2005/healthnova-consult/internal/websocket"
)

const (
	doctorID   = int64(10)
	patientID  = int64(20)
	strangerID = int64(99)

	apptID = int64(501)
)

var testSecret = []byte("svc-test-secret")

type fixture struct {
	svc      *MeetingService
	meetings *repositories.MemoryMeetingRepository
	appts    *repositories.MemoryAppointmentDirectory
	audit    *repositories.MemoryAuditRepository
	hub      *websocket.Hub
}

func newFixture(grace time.Duration) *fixture {
	meetings := repositories.NewMemoryMeetingRepository()
	appts := repositories.NewMemoryAppointmentDirectory()
	audit := repositories.NewMemoryAuditRepository()
	hub := websocket.NewHub()

	svc := NewMeetingService(meetings, appts, NewAccessGate(meetings, audit), hub, testSecret, grace)
	hub.SetPresenceListener(svc)

	appts.Seed(&models.Appointment{
		ID:          apptID,
		DoctorID:    doctorID,
		PatientID:   patientID,
		ScheduledAt: time.Now().Add(time.Hour),
	})

	return &fixture{svc: svc, meetings: meetings, appts: appts, audit: audit, hub: hub}
}

// scheduleAndStart walks the happy path up to ACTIVE and returns the
// room id.
func (f *fixture) scheduleAndStart(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	m, err := f.svc.Schedule(ctx, doctorID, "Dr. Rao", apptID)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.NoError(t, err)

	return m.RoomID
}

// connect puts a participant into the room the way the socket handler
// would after admission.
func (f *fixture) connect(t *testing.T, roomID string, userID int64, role models.Role) *websocket.Client {
	t.Helper()
	client := websocket.NewClient(userID, role, string(role), nil)
	f.hub.OpenRoom(roomID).Join(client)
	return client
}

func drainUntil(t *testing.T, c *websocket.Client, msgType string) websocket.Message {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case msg, ok := <-c.Send:
			require.True(t, ok, "channel closed before a %s frame arrived", msgType)
			if msg.Type == msgType {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", msgType)
		}
	}
}

func TestScheduleDerivesAndStampsRoom(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()

	m, err := f.svc.Schedule(ctx, doctorID, "Dr. Rao", apptID)
	require.NoError(t, err)
	require.True(t, utils.IsRoomID(m.RoomID))
	require.Equal(t, string(models.MeetingStateScheduled), m.State)

	// the appointment now carries the room id
	appt, err := f.appts.GetByRoomID(ctx, m.RoomID)
	require.NoError(t, err)
	require.Equal(t, apptID, appt.ID)

	// either participant may repeat the call and lands on the same room
	again, err := f.svc.Schedule(ctx, patientID, "Ravi", apptID)
	require.NoError(t, err)
	require.Equal(t, m.RoomID, again.RoomID)

	_, err = f.svc.Schedule(ctx, strangerID, "eve", apptID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Schedule(ctx, doctorID, "Dr. Rao", 999)
	require.ErrorIs(t, err, ErrMeetingNotFound)
}

func TestStartIsDoctorOnly(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()

	m, err := f.svc.Schedule(ctx, doctorID, "Dr. Rao", apptID)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, patientID, "Ravi", m.RoomID)
	require.ErrorIs(t, err, ErrDoctorOnly)

	_, err = f.svc.Start(ctx, strangerID, "eve", m.RoomID)
	require.ErrorIs(t, err, ErrForbidden)

	started, err := f.svc.Start(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.NoError(t, err)
	require.Equal(t, string(models.MeetingStateActive), started.State)
	require.NotNil(t, started.StartedAt)

	_, err = f.svc.Start(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.ErrorIs(t, err, ErrConflict, "a second start must lose")
}

func TestUnknownRoomLooksForbidden(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()

	// same refusal whether the room exists or not
	_, err := f.svc.Start(ctx, doctorID, "Dr. Rao", "room_00000000deadbeef")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Status(ctx, patientID, "Ravi", "room_00000000deadbeef")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestConcurrentStartsHaveOneWinner(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()

	m, err := f.svc.Schedule(ctx, doctorID, "Dr. Rao", apptID)
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Start(ctx, doctorID, "Dr. Rao", m.RoomID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ErrConflict)
		}
	}
	require.Equal(t, 1, wins)
}

func TestEndIsIdempotentForTheDoctor(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	roomID := f.scheduleAndStart(t)

	ended, err := f.svc.End(ctx, doctorID, "Dr. Rao", roomID)
	require.NoError(t, err)
	require.Equal(t, string(models.MeetingStateEnded), ended.State)
	require.Equal(t, models.EndReasonDoctor, ended.EndReason)
	require.NotNil(t, ended.EndedAt)

	// a retry reports the settled row instead of failing
	again, err := f.svc.End(ctx, doctorID, "Dr. Rao", roomID)
	require.NoError(t, err)
	require.Equal(t, ended.EndReason, again.EndReason)

	_, err = f.svc.Start(ctx, doctorID, "Dr. Rao", roomID)
	require.ErrorIs(t, err, ErrSessionClosed)
	_, err = f.svc.Cancel(ctx, doctorID, "Dr. Rao", roomID)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestEndBeforeStartConflicts(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()

	m, err := f.svc.Schedule(ctx, doctorID, "Dr. Rao", apptID)
	require.NoError(t, err)

	_, err = f.svc.End(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.ErrorIs(t, err, ErrConflict)
}

func TestCancelOnlyBeforeStart(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()

	m, err := f.svc.Schedule(ctx, doctorID, "Dr. Rao", apptID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, patientID, "Ravi", m.RoomID)
	require.ErrorIs(t, err, ErrDoctorOnly)

	cancelled, err := f.svc.Cancel(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.NoError(t, err)
	require.Equal(t, string(models.MeetingStateCancelled), cancelled.State)

	// cancelling twice reports the settled row
	_, err = f.svc.Cancel(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.ErrorIs(t, err, ErrSessionClosed)
	_, err = f.svc.End(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestCancelAfterStartConflicts(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	roomID := f.scheduleAndStart(t)

	_, err := f.svc.Cancel(ctx, doctorID, "Dr. Rao", roomID)
	require.ErrorIs(t, err, ErrConflict)
}

func TestStatusSpeaksToEachRole(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()

	m, err := f.svc.Schedule(ctx, doctorID, "Dr. Rao", apptID)
	require.NoError(t, err)

	// join is gated on the live state even for the doctor
	st, err := f.svc.Status(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.NoError(t, err)
	require.False(t, st.CanJoin)
	require.Equal(t, "Click Start Consultation to begin", st.Message)

	st, err = f.svc.Status(ctx, patientID, "Ravi", m.RoomID)
	require.NoError(t, err)
	require.False(t, st.CanJoin)
	require.Equal(t, "Waiting for doctor to start consultation...", st.Message)

	_, err = f.svc.Start(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.NoError(t, err)

	st, err = f.svc.Status(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.NoError(t, err)
	require.True(t, st.CanJoin)

	st, err = f.svc.Status(ctx, patientID, "Ravi", m.RoomID)
	require.NoError(t, err)
	require.True(t, st.CanJoin)
	require.Equal(t, "Consultation is live - Click to join", st.Message)

	_, err = f.svc.End(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.NoError(t, err)

	st, err = f.svc.Status(ctx, patientID, "Ravi", m.RoomID)
	require.NoError(t, err)
	require.False(t, st.CanJoin)
	require.Equal(t, "Consultation has ended", st.Message)

	_, err = f.svc.Status(ctx, strangerID, "eve", m.RoomID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestStatusCancelledMessage(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()

	m, err := f.svc.Schedule(ctx, doctorID, "Dr. Rao", apptID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.NoError(t, err)

	st, err := f.svc.Status(ctx, patientID, "Ravi", m.RoomID)
	require.NoError(t, err)
	require.False(t, st.CanJoin)
	require.Equal(t, "Consultation was cancelled", st.Message)
}

func TestStatusTracksSlotOccupancy(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	roomID := f.scheduleAndStart(t)

	patient := f.connect(t, roomID, patientID, models.RolePatient)

	st, err := f.svc.Status(ctx, patientID, "Ravi", roomID)
	require.NoError(t, err)
	require.False(t, st.CanJoin)
	require.Equal(t, "Already connected in another window", st.Message)

	// the doctor's slot is still open
	st, err = f.svc.Status(ctx, doctorID, "Dr. Rao", roomID)
	require.NoError(t, err)
	require.True(t, st.CanJoin)

	room, ok := f.hub.Room(roomID)
	require.True(t, ok)
	room.Leave(patient)

	st, err = f.svc.Status(ctx, patientID, "Ravi", roomID)
	require.NoError(t, err)
	require.True(t, st.CanJoin, "a freed slot must be joinable again")
}

func TestConflictsCarryTheLiveState(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	roomID := f.scheduleAndStart(t)

	var st *StateError

	_, err := f.svc.Start(ctx, doctorID, "Dr. Rao", roomID)
	require.ErrorAs(t, err, &st)
	require.Equal(t, string(models.MeetingStateActive), st.State)

	_, err = f.svc.Cancel(ctx, doctorID, "Dr. Rao", roomID)
	require.ErrorAs(t, err, &st)
	require.Equal(t, string(models.MeetingStateActive), st.State)

	_, err = f.svc.End(ctx, doctorID, "Dr. Rao", roomID)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, doctorID, "Dr. Rao", roomID)
	require.ErrorIs(t, err, ErrSessionClosed)
	require.ErrorAs(t, err, &st)
	require.Equal(t, string(models.MeetingStateEnded), st.State)
}

func TestStatusMaterializesStampedRoom(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()

	// the booking system stamped the room but nobody called schedule
	roomID := utils.DeriveRoomID(testSecret, 777)
	f.appts.Seed(&models.Appointment{
		ID:          777,
		RoomID:      roomID,
		DoctorID:    doctorID,
		PatientID:   patientID,
		ScheduledAt: time.Now().Add(time.Hour),
	})

	st, err := f.svc.Status(ctx, patientID, "Ravi", roomID)
	require.NoError(t, err)
	require.Equal(t, string(models.MeetingStateScheduled), st.State)
}

func TestAdmitRequiresLiveSession(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()

	m, err := f.svc.Schedule(ctx, doctorID, "Dr. Rao", apptID)
	require.NoError(t, err)

	_, err = f.svc.Admit(ctx, patientID, "Ravi", m.RoomID)
	require.ErrorIs(t, err, ErrNotYetStarted)

	_, err = f.svc.Start(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.NoError(t, err)

	grant, err := f.svc.Admit(ctx, patientID, "Ravi", m.RoomID)
	require.NoError(t, err)
	require.Equal(t, models.RolePatient, grant.Role)
	require.Equal(t, m.RoomID, grant.RoomID)

	grant, err = f.svc.Admit(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.NoError(t, err)
	require.Equal(t, models.RoleDoctor, grant.Role)

	_, err = f.svc.Admit(ctx, strangerID, "eve", m.RoomID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.End(ctx, doctorID, "Dr. Rao", m.RoomID)
	require.NoError(t, err)

	_, err = f.svc.Admit(ctx, patientID, "Ravi", m.RoomID)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestDoctorLeavingEndsTheSession(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	roomID := f.scheduleAndStart(t)

	doctor := f.connect(t, roomID, doctorID, models.RoleDoctor)
	patient := f.connect(t, roomID, patientID, models.RolePatient)
	drainUntil(t, doctor, websocket.TypePeerJoined)
	drainUntil(t, patient, websocket.TypeJoined)

	room, ok := f.hub.Room(roomID)
	require.True(t, ok)
	room.Leave(doctor)

	msg := drainUntil(t, patient, websocket.TypeSessionEnded)

	var farewell websocket.SessionEndedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &farewell))
	require.Equal(t, models.EndReasonDoctorLeft, farewell.Reason)

	m, err := f.meetings.GetByRoomID(ctx, roomID)
	require.NoError(t, err)
	require.Equal(t, models.MeetingStateEnded, m.State)
	require.Equal(t, models.EndReasonDoctorLeft, m.EndReason)

	_, ok = f.hub.Room(roomID)
	require.False(t, ok, "the room must be torn down with the session")
}

func TestPatientLeaveArmsGraceThenExpires(t *testing.T) {
	f := newFixture(80 * time.Millisecond)
	ctx := context.Background()
	roomID := f.scheduleAndStart(t)

	doctor := f.connect(t, roomID, doctorID, models.RoleDoctor)
	patient := f.connect(t, roomID, patientID, models.RolePatient)
	drainUntil(t, patient, websocket.TypeJoined)

	room, _ := f.hub.Room(roomID)
	room.Leave(patient)

	// the session survives the disconnect itself
	m, err := f.meetings.GetByRoomID(ctx, roomID)
	require.NoError(t, err)
	require.Equal(t, models.MeetingStateActive, m.State)
	require.NotNil(t, m.LastPatientSeenAt)

	require.Eventually(t, func() bool {
		m, err := f.meetings.GetByRoomID(ctx, roomID)
		return err == nil && m.State == models.MeetingStateEnded
	}, 2*time.Second, 10*time.Millisecond, "grace expiry never fired")

	m, err = f.meetings.GetByRoomID(ctx, roomID)
	require.NoError(t, err)
	require.Equal(t, models.EndReasonPatientTimeout, m.EndReason)

	drainUntil(t, doctor, websocket.TypeSessionEnded)
}

func TestPatientReturnInsideGraceKeepsSessionAlive(t *testing.T) {
	f := newFixture(150 * time.Millisecond)
	ctx := context.Background()
	roomID := f.scheduleAndStart(t)

	f.connect(t, roomID, doctorID, models.RoleDoctor)
	patient := f.connect(t, roomID, patientID, models.RolePatient)
	drainUntil(t, patient, websocket.TypeJoined)

	room, _ := f.hub.Room(roomID)
	room.Leave(patient)

	// back before the window runs out
	f.connect(t, roomID, patientID, models.RolePatient)

	time.Sleep(400 * time.Millisecond)

	m, err := f.meetings.GetByRoomID(ctx, roomID)
	require.NoError(t, err)
	require.Equal(t, models.MeetingStateActive, m.State, "a returned patient must not be timed out")
}

func TestPatientWhoNeverConnectedNeverTimesOut(t *testing.T) {
	f := newFixture(50 * time.Millisecond)
	ctx := context.Background()
	roomID := f.scheduleAndStart(t)

	time.Sleep(200 * time.Millisecond)

	m, err := f.meetings.GetByRoomID(ctx, roomID)
	require.NoError(t, err)
	require.Equal(t, models.MeetingStateActive, m.State,
		"grace only counts down from a disconnect, not from start")
}

func TestAdmitSettlesAnOverdueTimeout(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	roomID := f.scheduleAndStart(t)

	// liveness anchor far in the past with no armed watchdog, as after
	// a process restart
	require.NoError(t, f.meetings.TouchPatientSeen(ctx, roomID, time.Now().Add(-10*time.Minute)))

	_, err := f.svc.Admit(ctx, patientID, "Ravi", roomID)
	require.ErrorIs(t, err, ErrSessionClosed)

	m, err := f.meetings.GetByRoomID(ctx, roomID)
	require.NoError(t, err)
	require.Equal(t, models.MeetingStateEnded, m.State)
	require.Equal(t, models.EndReasonPatientTimeout, m.EndReason)
}

func TestCloseIfSettledTearsDownLateRoom(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	roomID := f.scheduleAndStart(t)

	_, err := f.svc.End(ctx, doctorID, "Dr. Rao", roomID)
	require.NoError(t, err)

	// a join racing the end re-opened the room after teardown
	client := f.connect(t, roomID, patientID, models.RolePatient)

	require.True(t, f.svc.CloseIfSettled(ctx, roomID))

	msg := drainUntil(t, client, websocket.TypeSessionEnded)
	var farewell websocket.SessionEndedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &farewell))
	require.Equal(t, models.EndReasonDoctor, farewell.Reason)

	_, ok := f.hub.Room(roomID)
	require.False(t, ok)
}

func TestCloseIfSettledLeavesLiveRoomAlone(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	roomID := f.scheduleAndStart(t)

	f.connect(t, roomID, doctorID, models.RoleDoctor)

	require.False(t, f.svc.CloseIfSettled(ctx, roomID))
	_, ok := f.hub.Room(roomID)
	require.True(t, ok)
}

func TestShutdownEndsLiveSessions(t *testing.T) {
	f := newFixture(time.Minute)
	ctx := context.Background()
	roomID := f.scheduleAndStart(t)

	doctor := f.connect(t, roomID, doctorID, models.RoleDoctor)
	drainUntil(t, doctor, websocket.TypeJoined)

	f.svc.Shutdown(ctx)

	m, err := f.meetings.GetByRoomID(ctx, roomID)
	require.NoError(t, err)
	require.Equal(t, models.MeetingStateEnded, m.State)
	require.Equal(t, models.EndReasonShutdown, m.EndReason)

	drainUntil(t, doctor, websocket.TypeSessionEnded)
	require.Empty(t, f.hub.RoomIDs())
}
