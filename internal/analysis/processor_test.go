package analysis_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"therapy-scheduling-server/internal/analysis"
	"therapy-scheduling-server/internal/models"
	"therapy-scheduling-server/internal/report"
	"therapy-scheduling-server/internal/repository"
	"therapy-scheduling-server/internal/services"
	"therapy-scheduling-server/internal/testutil"
)

type stubAnalyzer struct {
	result analysis.Result
	err    error
}

func (s stubAnalyzer) Analyze(context.Context, string) (analysis.Result, error) {
	return s.result, s.err
}

type recordingDeliverer struct {
	mu         sync.Mutex
	deliveries []report.Delivery
	err        error
}

func (d *recordingDeliverer) Deliver(_ context.Context, del report.Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.deliveries = append(d.deliveries, del)
	return nil
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.deliveries)
}

type fixture struct {
	store    *repository.Store
	payments *services.PaymentService
}

func newFixture(t *testing.T, voice services.VoiceJobQueue) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	testutil.SeedUser(t, db, "pat", models.RolePatient, "Jane", "Doe")
	testutil.SeedUser(t, db, "doc", models.RoleTherapist, "Ann", "Smith")

	store := repository.NewStore(db)
	notifier := services.NewNotificationService(store.Notifications, zerolog.Nop(), nil)
	var opts []services.PaymentOption
	if voice != nil {
		opts = append(opts, services.WithVoiceQueue(voice))
	}
	return &fixture{
		store:    store,
		payments: services.NewPaymentService(store, notifier, zerolog.Nop(), opts...),
	}
}

func (f *fixture) approvedPaymentWithVoice(t *testing.T) *models.Payment {
	t.Helper()
	ctx := context.Background()
	p, err := f.payments.SubmitReceipt(ctx, services.SubmitReceiptInput{
		PatientUsername:   "pat",
		Method:            "easypaisa",
		ReferenceNo:       "TX-1",
		Date:              "2099-01-01",
		Time:              "10:00 AM",
		TherapistUsername: "doc",
		ReceiptURL:        "uploads/r.png",
		Voice:             &services.VoiceRecordingInput{AudioData: "UklGRg==", FileName: "clip.wav"},
	})
	require.NoError(t, err)
	p, err = f.payments.SetStatus(ctx, p.ID, models.PaymentApproved)
	require.NoError(t, err)
	return p
}

func TestProcess_AnalyzerFailureFallsBackToNeutral(t *testing.T) {
	f := newFixture(t, nil)
	p := f.approvedPaymentWithVoice(t)
	deliverer := &recordingDeliverer{}

	proc := analysis.NewProcessor(f.store, stubAnalyzer{err: errors.New("flask down")}, report.NewPDFGenerator(),
		zerolog.Nop(), analysis.WithDeliverer(deliverer))
	require.NoError(t, proc.Process(context.Background(), p.ID))

	stored, err := f.store.Payments.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, models.PaymentApproved, stored.Status)
	require.True(t, stored.VoiceRecording.Processed)
	require.Equal(t, analysis.NeutralEmotion, stored.VoiceRecording.EmotionResult)
	require.True(t, stored.VoiceRecording.ReportSent)

	var saved analysis.Result
	require.NoError(t, json.Unmarshal(stored.VoiceRecording.Analysis, &saved))
	require.True(t, saved.Fallback)
	require.Zero(t, saved.Features["mfcc1"])

	require.Equal(t, 1, deliverer.count())
	del := deliverer.deliveries[0]
	require.Equal(t, "doc@example.com", del.To)
	require.Contains(t, del.Subject, "Jane Doe")
	require.Equal(t, "%PDF", string(del.PDF[:4]))
}

func TestProcess_DeliveryFailureLeavesReportUnsent(t *testing.T) {
	f := newFixture(t, nil)
	p := f.approvedPaymentWithVoice(t)

	proc := analysis.NewProcessor(f.store,
		stubAnalyzer{result: analysis.Result{Emotion: "calm", Features: map[string]float64{"chroma": 0.3}}},
		report.NewPDFGenerator(), zerolog.Nop(),
		analysis.WithDeliverer(&recordingDeliverer{err: errors.New("smtp down")}))
	require.NoError(t, proc.Process(context.Background(), p.ID))

	stored, err := f.store.Payments.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, stored.VoiceRecording.Processed)
	require.Equal(t, "calm", stored.VoiceRecording.EmotionResult)
	require.False(t, stored.VoiceRecording.ReportSent)
}

func TestProcess_SkipsProcessedAndMissing(t *testing.T) {
	f := newFixture(t, nil)
	p := f.approvedPaymentWithVoice(t)
	deliverer := &recordingDeliverer{}
	proc := analysis.NewProcessor(f.store, stubAnalyzer{result: analysis.Fallback()}, report.NewPDFGenerator(),
		zerolog.Nop(), analysis.WithDeliverer(deliverer))

	ctx := context.Background()
	require.NoError(t, proc.Process(ctx, p.ID))
	require.NoError(t, proc.Process(ctx, p.ID))
	require.Equal(t, 1, deliverer.count())

	require.NoError(t, proc.Process(ctx, "missing"))
}

func TestProcess_NoDelivererKeepsReportUnsent(t *testing.T) {
	f := newFixture(t, nil)
	p := f.approvedPaymentWithVoice(t)

	proc := analysis.NewProcessor(f.store, stubAnalyzer{err: errors.New("timeout")}, report.NewPDFGenerator(), zerolog.Nop())
	require.NoError(t, proc.Process(context.Background(), p.ID))

	stored, err := f.store.Payments.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, stored.VoiceRecording.Processed)
	require.False(t, stored.VoiceRecording.ReportSent)
}

func TestWorker_ProcessesQueuedApproval(t *testing.T) {
	queue := analysis.NewMemoryQueue(8)
	f := newFixture(t, analysis.NewPublisher(queue))
	deliverer := &recordingDeliverer{}

	proc := analysis.NewProcessor(f.store, stubAnalyzer{err: errors.New("unavailable")}, report.NewPDFGenerator(),
		zerolog.Nop(), analysis.WithDeliverer(deliverer))
	worker := analysis.NewWorker(queue, proc, zerolog.Nop(),
		analysis.WithWorkerCount(1), analysis.WithReceiveWaitSeconds(1))

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)
	defer func() {
		cancel()
		worker.Wait()
	}()

	p := f.approvedPaymentWithVoice(t)
	require.Equal(t, models.PaymentApproved, p.Status)

	require.Eventually(t, func() bool {
		stored, err := f.store.Payments.GetByID(context.Background(), p.ID)
		return err == nil && stored.VoiceRecording.ReportSent
	}, 5*time.Second, 20*time.Millisecond)

	stored, err := f.store.Payments.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, analysis.NeutralEmotion, stored.VoiceRecording.EmotionResult)
	require.Equal(t, 1, deliverer.count())
}
