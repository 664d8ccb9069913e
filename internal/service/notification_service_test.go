package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/internal/workflow"
	"github.com/acadeon/curricula-api/pkg/jobs"
)

type sinkStub struct {
	mu        sync.Mutex
	delivered []Notification
	failFirst bool
	attempts  int
}

func (s *sinkStub) Deliver(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failFirst && s.attempts == 1 {
		return context.DeadlineExceeded
	}
	s.delivered = append(s.delivered, n)
	return nil
}

func (s *sinkStub) all() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.delivered))
	copy(out, s.delivered)
	return out
}

func TestNotificationServiceRoutesEffects(t *testing.T) {
	sink := &sinkStub{}
	svc := NewNotificationService(nil, sink, 0, nil)

	event := NotificationEvent{
		Resource:       "course CS401 v2",
		ResourceID:     "crs-2",
		Owner:          "lect-1",
		DepartmentCode: "CS",
		Summary:        "submit: draft -> pending_approval",
	}
	svc.DispatchEffects([]workflow.SideEffect{
		workflow.EffectNotifyApprovers,
		workflow.EffectNotifyOffice,
		workflow.EffectNotifyOwner,
		workflow.EffectNotifyStudent,
	}, event)

	got := sink.all()
	require.Len(t, got, 4)

	require.Equal(t, "department:CS", got[0].Recipient)
	require.Equal(t, models.RoleHOD, got[0].Role)
	require.Contains(t, got[0].Subject, "awaiting approval")

	require.Equal(t, "office", got[1].Recipient)
	require.Equal(t, models.RoleOffice, got[1].Role)

	require.Equal(t, "lect-1", got[2].Recipient)
	require.Equal(t, models.RoleLecturer, got[2].Role)

	require.Equal(t, "lect-1", got[3].Recipient)
	require.Equal(t, models.RoleStudent, got[3].Role)

	for _, n := range got {
		require.Equal(t, event.Summary, n.Body)
		require.False(t, n.CreatedAt.IsZero())
	}
}

func TestNotificationServiceScheduleActivationDeliversNothing(t *testing.T) {
	sink := &sinkStub{}
	svc := NewNotificationService(nil, sink, 0, nil)

	svc.DispatchEffects([]workflow.SideEffect{workflow.EffectScheduleActivation}, NotificationEvent{
		Resource:   "course CS401 v2",
		ResourceID: "crs-2",
	})

	require.Empty(t, sink.all())
}

func TestNotificationServiceQueuedDeliveryRetries(t *testing.T) {
	sink := &sinkStub{failFirst: true}
	queue := jobs.NewQueue(1, 4, time.Millisecond, nil)
	queue.Start()
	svc := NewNotificationService(queue, sink, 2, nil)

	svc.DispatchEffects([]workflow.SideEffect{workflow.EffectNotifyOwner}, NotificationEvent{
		Resource: "degree BSC-CS v3",
		Owner:    "lect-2",
		Summary:  "approve: pending_approval -> approved",
	})
	queue.Stop()

	got := sink.all()
	require.Len(t, got, 1)
	require.Equal(t, "lect-2", got[0].Recipient)
	require.Equal(t, 2, sink.attempts)
}
