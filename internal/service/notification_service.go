package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/internal/workflow"
	"github.com/acadeon/curricula-api/pkg/jobs"
)

// Notification is one message owed to a user after a workflow event.
type Notification struct {
	Recipient string
	Role      models.UserRole
	Subject   string
	Body      string
	CreatedAt time.Time
}

// NotificationSink delivers a notification. Delivery transport is a
// collaborator concern; the default sink writes structured logs.
type NotificationSink interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogSink records notifications in the service log. It stands in for
// the institution's mail relay, which is owned by another system.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds the default sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Deliver implements NotificationSink.
func (s *LogSink) Deliver(_ context.Context, n Notification) error {
	s.logger.Info("notification",
		zap.String("recipient", n.Recipient),
		zap.String("role", string(n.Role)),
		zap.String("subject", n.Subject),
		zap.String("body", n.Body),
	)
	return nil
}

// NotificationService turns workflow side effects into queued
// deliveries. Dispatch is asynchronous and lossy on overload; the
// audit trail, not the notification stream, is the system of record.
type NotificationService struct {
	queue      *jobs.Queue
	sink       NotificationSink
	maxRetries int
	logger     *zap.Logger
}

// NewNotificationService constructs the dispatcher.
func NewNotificationService(queue *jobs.Queue, sink NotificationSink, maxRetries int, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}
	return &NotificationService{queue: queue, sink: sink, maxRetries: maxRetries, logger: logger}
}

// DispatchEffects fans side effects out to their audiences.
func (s *NotificationService) DispatchEffects(effects []workflow.SideEffect, event NotificationEvent) {
	if s == nil {
		return
	}
	for _, effect := range effects {
		switch effect {
		case workflow.EffectNotifyApprovers:
			s.enqueue(Notification{
				Recipient: "department:" + event.DepartmentCode,
				Role:      models.RoleHOD,
				Subject:   fmt.Sprintf("%s awaiting approval", event.Resource),
				Body:      event.Summary,
			})
		case workflow.EffectNotifyOffice:
			s.enqueue(Notification{
				Recipient: "office",
				Role:      models.RoleOffice,
				Subject:   fmt.Sprintf("%s awaiting office review", event.Resource),
				Body:      event.Summary,
			})
		case workflow.EffectNotifyOwner:
			s.enqueue(Notification{
				Recipient: event.Owner,
				Role:      models.RoleLecturer,
				Subject:   fmt.Sprintf("%s status changed", event.Resource),
				Body:      event.Summary,
			})
		case workflow.EffectNotifyStudent:
			s.enqueue(Notification{
				Recipient: event.Owner,
				Role:      models.RoleStudent,
				Subject:   fmt.Sprintf("%s decision", event.Resource),
				Body:      event.Summary,
			})
		case workflow.EffectScheduleActivation:
			s.logger.Info("activation scheduled",
				zap.String("resource", event.Resource),
				zap.String("resource_id", event.ResourceID),
			)
		}
	}
}

// NotificationEvent carries the context a side effect needs to become
// a message.
type NotificationEvent struct {
	Resource       string
	ResourceID     string
	Owner          string
	DepartmentCode string
	Summary        string
}

func (s *NotificationService) enqueue(n Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if s.queue == nil {
		_ = s.sink.Deliver(context.Background(), n)
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		Name:       "notify:" + n.Subject,
		MaxRetries: s.maxRetries,
		Run: func(ctx context.Context) error {
			return s.sink.Deliver(ctx, n)
		},
	})
	if err != nil {
		s.logger.Warn("notification dropped", zap.String("subject", n.Subject), zap.Error(err))
	}
}
