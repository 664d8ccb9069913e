package service

import (
	"context"
	"encoding/json"
	"reflect"

	"go.uber.org/zap"

	"github.com/acadeon/curricula-api/internal/models"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
)

type auditStore interface {
	Insert(ctx context.Context, entry *models.AuditEntry) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, int, error)
}

type requestMetaKey struct{}

// RequestMeta carries per-request client details from the HTTP layer to
// the audit trail without giving services access to the request itself.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// WithRequestMeta stamps request metadata onto the context. The
// identity middleware calls this once per request.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

func requestMetaFrom(ctx context.Context) (RequestMeta, bool) {
	meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta, ok
}

// AuditService is the workflow's audit recorder. Entries are
// write-once; recording is best-effort and never fails the business
// operation that produced it.
type AuditService struct {
	repo   auditStore
	logger *zap.Logger
}

// NewAuditService constructs the recorder.
func NewAuditService(repo auditStore, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, logger: logger}
}

// Record appends one entry to the trail. Client details come from the
// request metadata on the context; background work is marked "system".
func (s *AuditService) Record(ctx context.Context, entry *models.AuditEntry) {
	if s == nil || s.repo == nil || entry == nil {
		return
	}
	if meta, ok := requestMetaFrom(ctx); ok {
		entry.IPAddress = meta.IPAddress
		entry.UserAgent = meta.UserAgent
	}
	if entry.IPAddress == "" {
		entry.IPAddress = "system"
	}
	if entry.UserAgent == "" {
		entry.UserAgent = "api-gateway"
	}
	if err := s.repo.Insert(ctx, entry); err != nil {
		s.logger.Error("failed to record audit entry",
			zap.String("action", entry.Action),
			zap.String("resource", entry.Resource),
			zap.Error(err),
		)
	}
}

// List returns audit entries for review staff.
func (s *AuditService) List(ctx context.Context, filter models.AuditFilter, actor models.Actor) ([]models.AuditEntry, *models.Pagination, error) {
	switch actor.Role {
	case models.RoleAdmin, models.RoleOffice, models.RoleHOD:
	default:
		return nil, nil, appErrors.ErrForbidden
	}
	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit entries")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	return entries, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// diffSnapshots reduces two snapshots to the fields that changed, so
// the trail stores deltas instead of whole records. Unmarshalable
// input degrades to the raw snapshots rather than losing the entry.
func diffSnapshots(before, after interface{}) (oldValues, newValues []byte) {
	beforeRaw, errB := json.Marshal(before)
	afterRaw, errA := json.Marshal(after)
	if errB != nil || errA != nil {
		return nil, nil
	}

	var beforeMap, afterMap map[string]interface{}
	if err := json.Unmarshal(beforeRaw, &beforeMap); err != nil {
		return beforeRaw, afterRaw
	}
	if err := json.Unmarshal(afterRaw, &afterMap); err != nil {
		return beforeRaw, afterRaw
	}

	oldDiff := make(map[string]interface{})
	newDiff := make(map[string]interface{})
	for key, afterVal := range afterMap {
		beforeVal, existed := beforeMap[key]
		if !existed || !reflect.DeepEqual(beforeVal, afterVal) {
			if existed {
				oldDiff[key] = beforeVal
			}
			newDiff[key] = afterVal
		}
	}
	for key, beforeVal := range beforeMap {
		if _, still := afterMap[key]; !still {
			oldDiff[key] = beforeVal
		}
	}

	if len(oldDiff) > 0 {
		oldValues, _ = json.Marshal(oldDiff)
	}
	if len(newDiff) > 0 {
		newValues, _ = json.Marshal(newDiff)
	}
	return oldValues, newValues
}
