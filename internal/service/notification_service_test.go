package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/darasa-api/internal/models"
	"github.com/noah-isme/darasa-api/pkg/jobs"
	"github.com/noah-isme/darasa-api/pkg/mailer"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []*mailer.Message
	calls int32
	err   error
	done  chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{done: make(chan struct{}, 16)}
}

func (r *recordingSender) Send(_ context.Context, msg *mailer.Message) error {
	atomic.AddInt32(&r.calls, 1)
	defer func() { r.done <- struct{}{} }()
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("sender called %d times, want %d", atomic.LoadInt32(&r.calls), n)
		}
	}
}

type recipientsFake struct {
	mu       sync.Mutex
	byID     map[string]models.RequestRecipient
	failures int
	lookups  int
}

func (r *recipientsFake) Recipient(_ context.Context, requestID string) (*models.RequestRecipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.failures > 0 {
		r.failures--
		return nil, errors.New("connection reset")
	}
	recipient, ok := r.byID[requestID]
	if !ok {
		return nil, errors.New("request not found")
	}
	return &recipient, nil
}

func newRecipientsFake() *recipientsFake {
	return &recipientsFake{byID: map[string]models.RequestRecipient{
		"r-1": {StudentName: "Ada", StudentEmail: "ada@example.com", CourseName: "Algebra"},
		"r-2": {StudentName: "Bob", StudentEmail: "bob@example.com", CourseName: "Physics"},
		"r-3": {StudentName: "Cy", CourseName: "Physics"},
	}}
}

func newNotificationServiceForTest(t *testing.T, recipients recipientLookup, sender mailer.Sender, metrics *MetricsService) *NotificationService {
	t.Helper()
	registry, err := mailer.NewDefaultRegistry(mailer.Globals{SiteName: "Darasa", FrontendURL: "http://localhost:4200"})
	require.NoError(t, err)
	svc := NewNotificationService(recipients, registry, sender, metrics, nil, jobs.QueueConfig{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond})
	svc.Start(context.Background())
	t.Cleanup(svc.Stop)
	return svc
}

func TestNotificationServiceSendsAcceptedMail(t *testing.T) {
	sender := newRecordingSender()
	metrics := NewMetricsService()
	svc := newNotificationServiceForTest(t, newRecipientsFake(), sender, metrics)

	err := svc.Dispatch(context.Background(), models.Effect{
		Kind:           models.EffectNotifyAccepted,
		RequestID:      "r-1",
		ClassroomNames: []string{"Monday", "Thursday"},
	})
	require.NoError(t, err)
	sender.wait(t, 1)

	sender.mu.Lock()
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	sender.mu.Unlock()
	assert.Equal(t, "ada@example.com", msg.To[0].Address)
	assert.Equal(t, "You have been accepted into Algebra", msg.Subject)
	assert.Contains(t, msg.TextContent, "Monday")
	assert.Contains(t, msg.TextContent, "Thursday")

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.notifications.WithLabelValues(mailer.TemplateRequestAccepted, notificationSent)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotificationServiceDeclinedMail(t *testing.T) {
	sender := newRecordingSender()
	svc := newNotificationServiceForTest(t, newRecipientsFake(), sender, nil)

	require.NoError(t, svc.Dispatch(context.Background(), models.Effect{Kind: models.EffectNotifyDeclined, RequestID: "r-2"}))
	sender.wait(t, 1)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Contains(t, sender.sent[0].TextContent, "Physics was declined")
}

func TestNotificationServiceRetriesFailedSends(t *testing.T) {
	sender := newRecordingSender()
	sender.err = errors.New("smtp down")
	metrics := NewMetricsService()
	svc := newNotificationServiceForTest(t, newRecipientsFake(), sender, metrics)

	require.NoError(t, svc.Dispatch(context.Background(), models.Effect{Kind: models.EffectNotifyDeclined, RequestID: "r-2"}))
	sender.wait(t, 2)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.notifications.WithLabelValues(mailer.TemplateRequestDeclined, notificationFailed)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotificationServiceRetriesRecipientLookup(t *testing.T) {
	sender := newRecordingSender()
	recipients := newRecipientsFake()
	recipients.failures = 1
	metrics := NewMetricsService()
	svc := newNotificationServiceForTest(t, recipients, sender, metrics)

	require.NoError(t, svc.Dispatch(context.Background(), models.Effect{Kind: models.EffectNotifyAccepted, RequestID: "r-1"}))
	sender.wait(t, 1)

	sender.mu.Lock()
	assert.Equal(t, "ada@example.com", sender.sent[0].To[0].Address)
	sender.mu.Unlock()
	recipients.mu.Lock()
	assert.Equal(t, 2, recipients.lookups)
	recipients.mu.Unlock()
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.notifications.WithLabelValues(mailer.TemplateRequestAccepted, notificationSent)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotificationServiceSkipsAndRejects(t *testing.T) {
	sender := newRecordingSender()
	metrics := NewMetricsService()
	svc := newNotificationServiceForTest(t, newRecipientsFake(), sender, metrics)

	assert.NoError(t, svc.Dispatch(context.Background(), models.Effect{Kind: models.EffectNotifyAccepted, RequestID: "r-3"}))
	assert.Error(t, svc.Dispatch(context.Background(), models.Effect{Kind: models.EffectEnrollStudent, RequestID: "r-1"}))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.notifications.WithLabelValues(mailer.TemplateRequestAccepted, notificationSkipped)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&sender.calls))
}

func TestNotificationServiceDispatchBeforeStart(t *testing.T) {
	registry, err := mailer.NewDefaultRegistry(mailer.Globals{})
	require.NoError(t, err)
	svc := NewNotificationService(newRecipientsFake(), registry, newRecordingSender(), nil, nil, jobs.QueueConfig{})

	err = svc.Dispatch(context.Background(), models.Effect{Kind: models.EffectNotifyDeclined, RequestID: "r-2"})
	assert.ErrorIs(t, err, jobs.ErrQueueStopped)
}
