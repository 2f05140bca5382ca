package services_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"therapy-scheduling-server/internal/models"
	"therapy-scheduling-server/internal/services"
)

func TestNotificationService_ReadFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.notifier.Notify(ctx, "pat", "first", services.Refs{}))
	require.NoError(t, env.notifier.Notify(ctx, "pat", "second", services.Refs{PaymentID: "p-1"}))

	list, err := env.notifier.ListForUser(ctx, "pat")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "second", list[0].Message)
	require.Equal(t, "p-1", *list[0].PaymentID)
	require.Nil(t, list[1].PaymentID)

	unread, err := env.notifier.UnreadCount(ctx, "pat")
	require.NoError(t, err)
	require.EqualValues(t, 2, unread)

	marked, err := env.notifier.MarkAllRead(ctx, "pat")
	require.NoError(t, err)
	require.EqualValues(t, 2, marked)

	unread, err = env.notifier.UnreadCount(ctx, "pat")
	require.NoError(t, err)
	require.Zero(t, unread)

	_, err = env.notifier.ListForUser(ctx, " ")
	requireKind(t, err, services.KindInvalidArgument)
}

type failingNotifications struct{}

func (failingNotifications) Create(context.Context, *models.Notification) error {
	return errors.New("insert failed")
}

func (failingNotifications) ListForRecipient(context.Context, string) ([]models.Notification, error) {
	return nil, nil
}

func (failingNotifications) CountUnread(context.Context, string) (int64, error) { return 0, nil }

func (failingNotifications) MarkAllRead(context.Context, string) (int64, error) { return 0, nil }

func TestNotificationFailureDoesNotFailBooking(t *testing.T) {
	env := newTestEnv(t)

	notifier := services.NewNotificationService(failingNotifications{}, zerolog.Nop(), nil)
	appointments := services.NewAppointmentService(env.store, notifier, zerolog.Nop(),
		services.WithLocation(time.UTC), services.WithClock(env.clock))

	require.Error(t, notifier.Notify(context.Background(), "pat", "x", services.Refs{}))

	appt, err := appointments.Create(context.Background(), services.CreateAppointmentInput{
		PatientUsername:   "pat",
		TherapistUsername: "doc",
		Date:              "2099-01-01",
		Time:              "10:00 AM",
		InitiatorRole:     models.InitiatorPatient,
	}, patient)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, appt.Status)
}

type countingFinisher struct {
	calls atomic.Int32
}

func (f *countingFinisher) FinishPast(context.Context) (int, error) {
	f.calls.Add(1)
	return 0, nil
}

func TestSweeper_RunsUntilCanceled(t *testing.T) {
	finisher := &countingFinisher{}
	sweeper := services.NewSweeper(finisher, zerolog.Nop()).WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return finisher.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

type countingRequeuer struct {
	calls atomic.Int32
}

func (r *countingRequeuer) RequeueUnprocessedVoice(context.Context) (int, error) {
	r.calls.Add(1)
	return 0, errors.New("queue full")
}

func TestSweeper_RequeuesVoiceEachTick(t *testing.T) {
	finisher := &countingFinisher{}
	requeuer := &countingRequeuer{}
	sweeper := services.NewSweeper(finisher, zerolog.Nop()).
		WithInterval(5 * time.Millisecond).
		WithVoiceRequeue(requeuer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	// a failing requeue does not stop the sweep loop
	require.Eventually(t, func() bool { return requeuer.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, finisher.calls.Load(), int32(2))
}
