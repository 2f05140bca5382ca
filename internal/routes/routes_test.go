package routes_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapy-scheduling-server/internal/config"
	"therapy-scheduling-server/internal/metrics"
	"therapy-scheduling-server/internal/middleware"
	"therapy-scheduling-server/internal/models"
	"therapy-scheduling-server/internal/repository"
	"therapy-scheduling-server/internal/routes"
	"therapy-scheduling-server/internal/services"
	"therapy-scheduling-server/internal/testutil"
	"therapy-scheduling-server/internal/utils"
)

const jwtSecret = "routes-test-secret"

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type server struct {
	t         *testing.T
	router    *gin.Engine
	store     *repository.Store
	uploadDir string
	admin     string
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	store := repository.NewStore(db)
	logger := zerolog.Nop()
	registry := prometheus.NewRegistry()
	m := metrics.NewWorkflowMetrics(registry)

	notifier := services.NewNotificationService(store.Notifications, logger, m)
	payments := services.NewPaymentService(store, notifier, logger,
		services.WithPaymentMetrics(m),
		services.WithPaymentClock(time.Now, time.UTC),
	)
	appointments := services.NewAppointmentService(store, notifier, logger,
		services.WithAppointmentListener(payments),
		services.WithAppointmentMetrics(m),
		services.WithLocation(time.UTC),
	)

	cfg := &config.Config{
		JWTSecret:            jwtSecret,
		JWTExpirationMinutes: 60,
		UploadDir:            t.TempDir(),
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	routes.SetupRoutes(router, routes.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Store:         store,
		Appointments:  appointments,
		Payments:      payments,
		Notifications: notifier,
		Gatherer:      registry,
	})

	adminUser := testutil.SeedUser(t, db, "root", models.RoleAdmin, "", "")
	adminToken, err := utils.GenerateAccessToken(adminUser, jwtSecret, time.Hour)
	require.NoError(t, err)

	return &server{t: t, router: router, store: store, uploadDir: cfg.UploadDir, admin: adminToken}
}

func (s *server) do(method, path, token string, body io.Reader, contentType string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (s *server) json(method, path, token string, payload any) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(s.t, err)
		body = bytes.NewReader(raw)
	}
	return s.do(method, path, token, body, "application/json")
}

// signup registers a user through the API and returns a bearer token.
func (s *server) signup(username, role, first, last string) string {
	s.t.Helper()
	w, _ := s.json(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username":  username,
		"email":     username + "@example.com",
		"password":  "correct-horse",
		"role":      role,
		"firstName": first,
		"lastName":  last,
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	w, env := s.json(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    username + "@example.com",
		"password": "correct-horse",
	})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var login struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &login))
	require.NotEmpty(s.t, login.AccessToken)
	return login.AccessToken
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestAuthFlow(t *testing.T) {
	s := newServer(t)
	token := s.signup("pat", "patient", "Jane", "Doe")

	w, env := s.json(http.MethodGet, "/api/auth/profile", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode[models.UserSanitized](t, env)
	assert.Equal(t, "pat", profile.Username)
	assert.Equal(t, models.RolePatient, profile.Role)
	assert.NotContains(t, w.Body.String(), "password")

	// duplicate e-mail
	w, _ = s.json(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "other", "email": "pat@example.com", "password": "correct-horse", "role": "patient",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// admins cannot self-register
	w, _ = s.json(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "boss", "email": "boss@example.com", "password": "correct-horse", "role": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.json(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "pat@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.json(http.MethodGet, "/api/auth/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAppointmentLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)
	patient := s.signup("pat", "patient", "Jane", "Doe")
	therapist := s.signup("doc", "therapist", "Ann", "Smith")
	stranger := s.signup("pat2", "patient", "", "")

	booking := map[string]string{
		"patientUsername":   "pat",
		"therapistUsername": "doc",
		"date":              "2099-01-01",
		"time":              "10:00 AM",
		"initiatorRole":     "patient",
	}
	w, env := s.json(http.MethodPost, "/api/appointments", patient, booking)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	appt := decode[models.Appointment](t, env)
	assert.Equal(t, models.StatusPending, appt.Status)

	w, env = s.json(http.MethodPost, "/api/appointments", patient, booking)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "You already have a pending or accepted appointment with this therapist.", env.Error)

	past := map[string]string{
		"patientUsername": "pat2", "therapistUsername": "doc",
		"date": "2000-01-01", "time": "10:00 AM", "initiatorRole": "patient",
	}
	w, _ = s.json(http.MethodPost, "/api/appointments", stranger, past)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// strangers cannot see or act on the appointment
	w, _ = s.json(http.MethodGet, "/api/appointments/"+appt.ID, stranger, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = s.json(http.MethodPut, "/api/appointments/"+appt.ID+"/accept", therapist, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusAccepted, decode[models.Appointment](t, env).Status)

	w, _ = s.json(http.MethodPut, "/api/appointments/"+appt.ID+"/reject", therapist, map[string]string{"reason": "late"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = s.json(http.MethodGet, "/api/appointments/booked?therapist=doc&date=2099-01-01", patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"10:00 AM"}, decode[[]string](t, env))

	w, env = s.json(http.MethodGet, "/api/appointments?username=pat&role=patient", patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	views := decode[[]models.AppointmentView](t, env)
	require.Len(t, views, 1)
	assert.Equal(t, "Dr. Ann Smith", views[0].TherapistFullName)

	w, _ = s.json(http.MethodGet, "/api/appointments?username=pat&role=patient", stranger, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// session notes are therapist-only
	w, _ = s.json(http.MethodPut, "/api/appointments/"+appt.ID+"/session-note", patient, map[string]string{"note": "hi"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, env = s.json(http.MethodPut, "/api/appointments/"+appt.ID+"/session-note", therapist, map[string]string{"note": "intake done"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), "intake done")
	w, _ = s.do(http.MethodDelete, "/api/appointments/"+appt.ID+"/session-note/5", therapist, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.do(http.MethodDelete, "/api/appointments/"+appt.ID+"/session-note/0", therapist, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = s.json(http.MethodPut, "/api/appointments/"+appt.ID+"/reschedule", patient, map[string]string{
		"newDate": "2099-01-02", "newTime": "11:00 AM", "reschedulerRole": "patient",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	moved := decode[models.Appointment](t, env)
	assert.Equal(t, models.StatusPending, moved.Status)
	assert.Equal(t, "2099-01-02", moved.Date)

	// a malformed reason body is refused rather than ignored
	w, _ = s.do(http.MethodPut, "/api/appointments/"+appt.ID+"/cancel", patient, strings.NewReader(`{"reason":`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.do(http.MethodPut, "/api/appointments/"+appt.ID+"/reject", therapist, strings.NewReader(`"late"`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, env = s.json(http.MethodGet, "/api/appointments/"+appt.ID, patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusPending, decode[models.Appointment](t, env).Status)

	w, env = s.json(http.MethodPut, "/api/appointments/"+appt.ID+"/cancel", patient, map[string]string{"reason": "travel"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusCanceled, decode[models.Appointment](t, env).Status)

	w, _ = s.json(http.MethodGet, "/api/appointments/does-not-exist", patient, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTherapistAvailabilityOverHTTP(t *testing.T) {
	s := newServer(t)
	patient := s.signup("pat", "patient", "Jane", "Doe")
	therapist := s.signup("doc", "therapist", "Ann", "Smith")

	w, env := s.json(http.MethodGet, "/api/appointments/availability/doc", patient, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Therapist not found or no availability set", env.Error)

	slots := map[string]any{"availableSlots": []map[string]string{
		{"day": "Monday", "start": "9:00 AM", "end": "12:00 PM"},
	}}
	w, _ = s.json(http.MethodPut, "/api/appointments/availability/doc", patient, slots)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = s.json(http.MethodPut, "/api/appointments/availability/doc", therapist, map[string]any{
		"availableSlots": []map[string]string{{"day": "Someday", "start": "9:00 AM", "end": "12:00 PM"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.json(http.MethodPut, "/api/appointments/availability/doc", therapist, slots)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = s.json(http.MethodGet, "/api/appointments/availability/doc", patient, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"slots":[{"day":"Monday","start":"9:00 AM","end":"12:00 PM"}]}`, string(env.Data))

	w, _ = s.json(http.MethodGet, "/api/appointments/availability/pat", patient, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotificationsOverHTTP(t *testing.T) {
	s := newServer(t)
	patient := s.signup("pat", "patient", "Jane", "Doe")
	s.signup("doc", "therapist", "Ann", "Smith")
	stranger := s.signup("pat2", "patient", "", "")

	w, _ := s.json(http.MethodPost, "/api/appointments", patient, map[string]string{
		"patientUsername": "pat", "therapistUsername": "doc",
		"date": "2099-01-01", "time": "10:00 AM", "initiatorRole": "patient",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := s.json(http.MethodGet, "/api/notifications/pat/unread-count", patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":1}`, string(env.Data))

	w, _ = s.json(http.MethodGet, "/api/notifications/pat", stranger, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.json(http.MethodGet, "/api/notifications/pat", s.admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = s.json(http.MethodPut, "/api/notifications/pat/mark-read", patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":1}`, string(env.Data))

	w, env = s.json(http.MethodGet, "/api/notifications/pat/unread-count", patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":0}`, string(env.Data))
}

func receiptForm(t *testing.T, fields map[string]string, fileName, contentType string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="slip"; filename="`+fileName+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte("\x89PNG fake image"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestPaymentReviewOverHTTP(t *testing.T) {
	s := newServer(t)
	patient := s.signup("pat", "patient", "Jane", "Doe")
	s.signup("doc", "therapist", "Ann", "Smith")

	fields := map[string]string{
		"method":            "easypaisa",
		"referenceNo":       "TX-77",
		"date":              "2099-03-01",
		"time":              "10:00 AM",
		"therapistUsername": "doc",
	}

	body, ct := receiptForm(t, fields, "", "")
	w, env := s.do(http.MethodPost, "/api/payments", patient, body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error, "No file uploaded")

	body, ct = receiptForm(t, fields, "notes.txt", "text/plain")
	w, _ = s.do(http.MethodPost, "/api/payments", patient, body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, ct = receiptForm(t, fields, "../my receipt.png", "image/png")
	w, env = s.do(http.MethodPost, "/api/payments", patient, body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	payment := decode[models.Payment](t, env)
	assert.Equal(t, models.PaymentPending, payment.Status)
	receiptPath := filepath.FromSlash(payment.ReceiptURL)
	assert.Equal(t, s.uploadDir, filepath.Dir(receiptPath))
	assert.True(t, strings.HasSuffix(payment.ReceiptURL, "-my_receipt.png"))
	_, err := os.Stat(receiptPath)
	assert.NoError(t, err)

	// review endpoints are admin-only
	w, _ = s.json(http.MethodGet, "/api/admin/pending-payments", patient, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = s.json(http.MethodGet, "/api/admin/pending-payments", s.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode[[]models.PaymentView](t, env)
	require.Len(t, pending, 1)
	assert.Equal(t, "N/A", pending[0].BookingStatus)

	w, _ = s.json(http.MethodPut, "/api/admin/payments/"+payment.ID+"/status", s.admin, map[string]string{"status": "Refunded"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.json(http.MethodPut, "/api/admin/payments/"+payment.ID+"/status", s.admin, map[string]string{"status": "Approved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	approved := decode[models.Payment](t, env)
	require.NotNil(t, approved.AppointmentID)

	w, env = s.json(http.MethodGet, "/api/appointments?username=pat&role=patient", patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	views := decode[[]models.AppointmentView](t, env)
	require.Len(t, views, 1)
	assert.True(t, views[0].PaymentVerified)

	// canceling the paid appointment opens a refund request
	w, _ = s.json(http.MethodPut, "/api/appointments/"+*approved.AppointmentID+"/cancel", patient, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = s.json(http.MethodGet, "/api/admin/refund-requests-count", s.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":1}`, string(env.Data))

	w, _ = s.json(http.MethodPut, "/api/admin/payments/"+payment.ID+"/refund", s.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = s.json(http.MethodPut, "/api/admin/payments/"+payment.ID+"/refund", s.admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = s.json(http.MethodGet, "/api/admin/payment-stats", s.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[services.PaymentStats](t, env)
	assert.EqualValues(t, 1, stats.TotalSubmissions)
	assert.Zero(t, stats.PendingPayments)

	w, env = s.json(http.MethodGet, "/api/admin/payment-history", s.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.PaymentView](t, env), 1)

	w, _ = s.json(http.MethodPut, "/api/admin/payments/missing/status", s.admin, map[string]string{"status": "Approved"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	w, _ := s.do(http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"UP"}`, w.Body.String())

	patient := s.signup("pat", "patient", "", "")
	s.signup("doc", "therapist", "", "")
	w, _ = s.json(http.MethodPost, "/api/appointments", patient, map[string]string{
		"patientUsername": "pat", "therapistUsername": "doc",
		"date": "2099-01-01", "time": "10:00 AM", "initiatorRole": "patient",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = s.do(http.MethodGet, "/metrics", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "therapy_notifications_emitted_total")
	assert.Contains(t, w.Body.String(), "therapy_appointments_transitions_total")
}
