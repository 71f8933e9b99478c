package service

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/darasa-api/internal/models"
	"github.com/noah-isme/darasa-api/pkg/jobs"
	"github.com/noah-isme/darasa-api/pkg/mailer"
)

const notificationJobType = "request_decision_email"

// Notification results recorded in metrics.
const (
	notificationSent    = "sent"
	notificationFailed  = "failed"
	notificationDropped = "dropped"
	notificationSkipped = "skipped"
)

type classroomLine struct {
	Name string
}

// decisionMail is the data the request_* templates render.
type decisionMail struct {
	RecipientName string
	CourseName    string
	Classrooms    []classroomLine
}

// notificationPayload is shared by every attempt of a job. Only the worker
// running the job touches skipped.
type notificationPayload struct {
	Template string
	Effect   models.Effect
	skipped  bool
}

type recipientLookup interface {
	Recipient(ctx context.Context, requestID string) (*models.RequestRecipient, error)
}

// NotificationService turns request decisions into emails delivered by a
// background worker queue. The recipient is resolved inside the job.
type NotificationService struct {
	queue      *jobs.Queue
	recipients recipientLookup
	registry   *mailer.TemplateRegistry
	sender     mailer.Sender
	metrics    *MetricsService
	logger     *zap.Logger
}

// NewNotificationService builds the dispatcher and its queue. Call Start before dispatching.
func NewNotificationService(recipients recipientLookup, registry *mailer.TemplateRegistry, sender mailer.Sender, metrics *MetricsService, logger *zap.Logger, cfg jobs.QueueConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		recipients: recipients,
		registry:   registry,
		sender:     sender,
		metrics:    metrics,
		logger:     logger,
	}
	cfg.Logger = logger
	cfg.OnResult = svc.onResult
	svc.queue = jobs.NewQueue("notifications", svc.handle, cfg)
	return svc
}

// Start launches the workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers. Buffered jobs are dropped.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Dispatch queues the email for a notification effect. It never blocks.
func (s *NotificationService) Dispatch(_ context.Context, effect models.Effect) error {
	var template string
	switch effect.Kind {
	case models.EffectNotifyAccepted:
		template = mailer.TemplateRequestAccepted
	case models.EffectNotifyDeclined:
		template = mailer.TemplateRequestDeclined
	default:
		return fmt.Errorf("effect %s is not a notification", effect.Kind)
	}

	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    notificationJobType,
		Payload: &notificationPayload{Template: template, Effect: effect},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.metrics.RecordNotification(template, notificationDropped)
		s.logger.Error("failed to queue notification",
			zap.String("request_id", effect.RequestID),
			zap.String("template", template),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(*notificationPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	recipient, err := s.recipients.Recipient(ctx, payload.Effect.RequestID)
	if err != nil {
		return fmt.Errorf("lookup recipient: %w", err)
	}
	if recipient.StudentEmail == "" {
		payload.skipped = true
		return nil
	}

	data := decisionMail{RecipientName: recipient.StudentName, CourseName: recipient.CourseName}
	for _, name := range payload.Effect.ClassroomNames {
		data.Classrooms = append(data.Classrooms, classroomLine{Name: name})
	}
	msg := &mailer.Message{
		To:           []mail.Address{{Name: recipient.StudentName, Address: recipient.StudentEmail}},
		TemplateName: payload.Template,
		TemplateData: data,
	}
	if err := s.registry.Render(msg); err != nil {
		return err
	}
	return s.sender.Send(ctx, msg)
}

func (s *NotificationService) onResult(job jobs.Job, err error) {
	payload, ok := job.Payload.(*notificationPayload)
	if !ok {
		return
	}
	switch {
	case err != nil:
		s.metrics.RecordNotification(payload.Template, notificationFailed)
	case payload.skipped:
		s.logger.Warn("notification skipped, student has no email", zap.String("request_id", payload.Effect.RequestID))
		s.metrics.RecordNotification(payload.Template, notificationSkipped)
	default:
		s.metrics.RecordNotification(payload.Template, notificationSent)
		s.logger.Debug("notification sent", zap.String("job_id", job.ID), zap.String("template", payload.Template))
	}
}
