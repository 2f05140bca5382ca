package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"therapy-scheduling-server/internal/models"
	"therapy-scheduling-server/internal/repository"
	"therapy-scheduling-server/internal/services"
	"therapy-scheduling-server/internal/testutil"
)

var fixedNow = time.Date(2030, time.January, 1, 9, 0, 0, 0, time.UTC)

type fakeVoiceQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *fakeVoiceQueue) EnqueueVoiceJob(_ context.Context, paymentID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, paymentID)
	return nil
}

func (q *fakeVoiceQueue) queued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

type testEnv struct {
	db           *gorm.DB
	store        *repository.Store
	notifier     *services.NotificationService
	appointments *services.AppointmentService
	payments     *services.PaymentService
	voice        *fakeVoiceQueue

	clockMu sync.Mutex
	now     time.Time
}

var (
	patient   = services.Actor{Username: "pat", Role: models.RolePatient}
	patient2  = services.Actor{Username: "pat2", Role: models.RolePatient}
	therapist = services.Actor{Username: "doc", Role: models.RoleTherapist}
	admin     = services.Actor{Username: "root", Role: models.RoleAdmin}
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewDB(t)
	store := repository.NewStore(db)
	logger := zerolog.Nop()
	env := &testEnv{db: db, store: store, voice: &fakeVoiceQueue{}, now: fixedNow}

	env.notifier = services.NewNotificationService(store.Notifications, logger, nil)
	env.payments = services.NewPaymentService(store, env.notifier, logger,
		services.WithVoiceQueue(env.voice),
		services.WithPaymentClock(env.clock, time.UTC),
	)
	env.appointments = services.NewAppointmentService(store, env.notifier, logger,
		services.WithAppointmentListener(env.payments),
		services.WithLocation(time.UTC),
		services.WithClock(env.clock),
	)

	testutil.SeedUser(t, db, "pat", models.RolePatient, "Jane", "Doe")
	testutil.SeedUser(t, db, "pat2", models.RolePatient, "", "")
	testutil.SeedUser(t, db, "doc", models.RoleTherapist, "Ann", "Smith")
	testutil.SeedUser(t, db, "doc2", models.RoleTherapist, "", "")
	testutil.SeedUser(t, db, "root", models.RoleAdmin, "", "")

	return env
}

func (e *testEnv) clock() time.Time {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	return e.now
}

// setNow moves the services' clock.
func (e *testEnv) setNow(now time.Time) {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	e.now = now
}

func (e *testEnv) notificationCount(t *testing.T, username string) int {
	t.Helper()
	list, err := e.store.Notifications.ListForRecipient(context.Background(), username)
	require.NoError(t, err)
	return len(list)
}

func (e *testEnv) totalNotifications(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.Notification{}).Count(&n).Error)
	return n
}

func (e *testEnv) appointmentCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.Appointment{}).Count(&n).Error)
	return n
}

func (e *testEnv) book(t *testing.T, patientName, therapistName, date, clockTime string) *models.Appointment {
	t.Helper()
	appt, err := e.appointments.Create(context.Background(), services.CreateAppointmentInput{
		PatientUsername:   patientName,
		TherapistUsername: therapistName,
		Date:              date,
		Time:              clockTime,
		InitiatorRole:     models.InitiatorPatient,
	}, services.Actor{Username: patientName, Role: models.RolePatient})
	require.NoError(t, err)
	return appt
}

func (e *testEnv) submit(t *testing.T, voice *services.VoiceRecordingInput) *models.Payment {
	t.Helper()
	p, err := e.payments.SubmitReceipt(context.Background(), services.SubmitReceiptInput{
		PatientUsername:   "pat",
		Method:            "easypaisa",
		ReferenceNo:       "TX-1001",
		Date:              "2099-01-01",
		Time:              "10:00 AM",
		TherapistUsername: "doc",
		ReceiptURL:        "uploads/receipt.png",
		Voice:             voice,
	})
	require.NoError(t, err)
	return p
}

func requireKind(t *testing.T, err error, kind services.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, services.KindOf(err), "unexpected error: %v", err)
}

func TestErrorKinds(t *testing.T) {
	err := services.Conflict("slot %s taken", "10:00")
	require.Equal(t, "slot 10:00 taken", err.Error())

	wrapped := errors.Join(errors.New("context"), err)
	require.True(t, services.IsKind(wrapped, services.KindConflict))
	require.Equal(t, services.Kind(""), services.KindOf(errors.New("plain")))
}

func TestParseSlot(t *testing.T) {
	cases := []struct {
		date, clock string
		want        time.Time
	}{
		{"2099-01-01", "10:00 AM", time.Date(2099, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"2099-01-01", "9:30 pm", time.Date(2099, 1, 1, 21, 30, 0, 0, time.UTC)},
		{"2099-01-01", "09:30PM", time.Date(2099, 1, 1, 21, 30, 0, 0, time.UTC)},
		{"2099-01-01", "14:15", time.Date(2099, 1, 1, 14, 15, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, ok := services.ParseSlot(tc.date, tc.clock, time.UTC)
		require.True(t, ok, "%s %s", tc.date, tc.clock)
		require.True(t, tc.want.Equal(got), "%s %s parsed as %v", tc.date, tc.clock, got)
	}

	_, ok := services.ParseSlot("next tuesday", "noon", time.UTC)
	require.False(t, ok)
}

func TestCanonicalTime(t *testing.T) {
	for in, want := range map[string]string{
		"10:00 AM":  "10:00 AM",
		" 10:00 am": "10:00 AM",
		"10:00AM":   "10:00 AM",
		"09:30 pm":  "9:30 PM",
		"21:30":     "9:30 PM",
		"noon":      "noon",
	} {
		require.Equal(t, want, services.CanonicalTime(in), in)
	}
}
