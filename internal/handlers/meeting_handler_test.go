package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/varad2005/healthnova-consult/internal/dtos"
	"github.com/varad2005/healthnova-consult/internal/handlers"
	"github.com/varad2005/healthnova-consult/internal/models"
	"github.com/varad2005/healthnova-consult/internal/repositories"
	"github.com/varad2005/healthnova-consult/internal/routes"
	"github.com/varad2005/healthnova-consult/internal/services"
	"github.com/varad2005/healthnova-consult/internal/utils"
	"github.com/varad2005/healthnova-consult/internal/websocket"
)

const (
	testSecret = "handler-test-secret"

	docID  = int64(7)
	patID  = int64(8)
	evilID = int64(66)

	testApptID = int64(3001)
)

type env struct {
	router   *gin.Engine
	svc      *services.MeetingService
	hub      *websocket.Hub
	meetings *repositories.MemoryMeetingRepository
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, dtos.RegisterValidators())

	meetings := repositories.NewMemoryMeetingRepository()
	appts := repositories.NewMemoryAppointmentDirectory()
	audit := repositories.NewMemoryAuditRepository()
	hub := websocket.NewHub()

	svc := services.NewMeetingService(meetings, appts,
		services.NewAccessGate(meetings, audit), hub, []byte("room-secret"), time.Minute)
	hub.SetPresenceListener(svc)

	appts.Seed(&models.Appointment{
		ID:          testApptID,
		DoctorID:    docID,
		PatientID:   patID,
		ScheduledAt: time.Now().Add(time.Hour),
	})

	router := gin.New()
	wsHandler := handlers.NewWebSocketHandler(svc, hub, 60*time.Second, 10*time.Second)
	routes.RegisterPublicEndpoints(router, handlers.NewHealthHandler(nil), wsHandler, svc, testSecret)
	routes.RegisterProtectedEndpoints(router, handlers.NewMeetingHandler(svc), testSecret)

	return &env{router: router, svc: svc, hub: hub, meetings: meetings}
}

func bearer(t *testing.T, userID int64, role, name string) string {
	t.Helper()
	token, err := utils.NewAccessToken(userID, role, name, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func (e *env) request(t *testing.T, method, path, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// schedule provisions the test appointment's meeting over HTTP and
// returns its room id.
func (e *env) schedule(t *testing.T) string {
	t.Helper()
	w := e.request(t, http.MethodPost, "/api/consult/appointments/3001/meeting",
		bearer(t, docID, "doctor", "Dr. Mehta"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	roomID, _ := body["room_id"].(string)
	require.True(t, utils.IsRoomID(roomID))
	return roomID
}

func TestScheduleEndpoint(t *testing.T) {
	e := newEnv(t)

	roomID := e.schedule(t)

	// repeating lands on the same room, for either participant
	w := e.request(t, http.MethodPost, "/api/consult/appointments/3001/meeting",
		bearer(t, patID, "patient", "Asha"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, roomID, decode(t, w)["room_id"])

	w = e.request(t, http.MethodPost, "/api/consult/appointments/3001/meeting",
		bearer(t, evilID, "patient", "eve"))
	require.Equal(t, http.StatusForbidden, w.Code)

	w = e.request(t, http.MethodPost, "/api/consult/appointments/9999/meeting",
		bearer(t, docID, "doctor", "Dr. Mehta"))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = e.request(t, http.MethodPost, "/api/consult/appointments/3001/meeting", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStartEndLifecycle(t *testing.T) {
	e := newEnv(t)
	roomID := e.schedule(t)
	doctor := bearer(t, docID, "doctor", "Dr. Mehta")
	patient := bearer(t, patID, "patient", "Asha")

	w := e.request(t, http.MethodPost, "/api/consult/meetings/"+roomID+"/start", patient)
	require.Equal(t, http.StatusForbidden, w.Code, "start is doctor only")

	w = e.request(t, http.MethodPost, "/api/consult/meetings/"+roomID+"/start", doctor)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, string(models.MeetingStateActive), body["state"])
	require.NotEmpty(t, body["started_at"])

	w = e.request(t, http.MethodPost, "/api/consult/meetings/"+roomID+"/start", doctor)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "ALREADY_ACTIVE", decode(t, w)["state"])

	w = e.request(t, http.MethodPost, "/api/consult/meetings/"+roomID+"/end", doctor)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	require.Equal(t, string(models.MeetingStateEnded), body["state"])
	require.Equal(t, models.EndReasonDoctor, body["end_reason"])

	// ending again reports the settled session
	w = e.request(t, http.MethodPost, "/api/consult/meetings/"+roomID+"/end", doctor)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.request(t, http.MethodPost, "/api/consult/meetings/"+roomID+"/start", doctor)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "ENDED", decode(t, w)["state"])
}

func TestCancelAndConflicts(t *testing.T) {
	e := newEnv(t)
	roomID := e.schedule(t)
	doctor := bearer(t, docID, "doctor", "Dr. Mehta")

	// end before start has nothing to close
	w := e.request(t, http.MethodPost, "/api/consult/meetings/"+roomID+"/end", doctor)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "SCHEDULED", decode(t, w)["state"])

	w = e.request(t, http.MethodPost, "/api/consult/meetings/"+roomID+"/cancel", doctor)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, string(models.MeetingStateCancelled), decode(t, w)["state"])

	w = e.request(t, http.MethodPost, "/api/consult/meetings/"+roomID+"/start", doctor)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "CANCELLED", decode(t, w)["state"])
}

func TestStatusAndDetailEndpoints(t *testing.T) {
	e := newEnv(t)
	roomID := e.schedule(t)
	doctor := bearer(t, docID, "doctor", "Dr. Mehta")
	patient := bearer(t, patID, "patient", "Asha")

	w := e.request(t, http.MethodGet, "/api/consult/meetings/"+roomID+"/status", patient)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, string(models.MeetingStateScheduled), body["state"])
	require.Equal(t, false, body["can_join"])
	require.Equal(t, "Waiting for doctor to start consultation...", body["message"])

	w = e.request(t, http.MethodPost, "/api/consult/meetings/"+roomID+"/start", doctor)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.request(t, http.MethodGet, "/api/consult/meetings/"+roomID+"/status", patient)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode(t, w)["can_join"])

	w = e.request(t, http.MethodGet, "/api/consult/meetings/"+roomID, patient)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	require.Equal(t, roomID, body["room_id"])
	require.Equal(t, float64(testApptID), body["appointment_id"])
	require.Equal(t, false, body["doctor_present"])

	// an unknown but well-formed room is refused like a foreign one
	w = e.request(t, http.MethodGet, "/api/consult/meetings/room_00000000deadbeef/status", patient)
	require.Equal(t, http.StatusForbidden, w.Code)

	// a malformed room id never reaches the service
	w = e.request(t, http.MethodGet, "/api/consult/meetings/not-a-room/status", patient)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)

	w := e.request(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "healthy", decode(t, w)["status"])
}
