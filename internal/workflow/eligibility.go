package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/acadeon/curricula-api/internal/models"
)

// BlockingVersion describes one newer version that prevents an edit.
type BlockingVersion struct {
	ID      string        `json:"id"`
	Version int           `json:"version"`
	Status  models.Status `json:"status"`
}

// Eligibility is the structured outcome of an edit check. Denials
// carry enough detail for a client to render an actionable message.
type Eligibility struct {
	Allowed  bool
	Reason   string
	Blocking []BlockingVersion
}

// EditPolicy decides whether an entity version may still be edited.
// The status list that blocks edits of an active version is
// configuration; it has been retuned before and will be again.
type EditPolicy struct {
	activeBlocking map[models.Status]bool
}

// NewEditPolicy builds a policy from the configured blocking statuses.
// Unknown strings are ignored so a config typo cannot widen the rule.
func NewEditPolicy(activeBlocking []string) EditPolicy {
	set := make(map[models.Status]bool, len(activeBlocking))
	for _, raw := range activeBlocking {
		s := models.Status(strings.ToLower(strings.TrimSpace(raw)))
		if s.Valid() {
			set[s] = true
		}
	}
	return EditPolicy{activeBlocking: set}
}

// DefaultBlockingStatuses is the tuned production default: newer work
// that is still live blocks edits of the active version.
func DefaultBlockingStatuses() []string {
	return []string{
		string(models.StatusDraft),
		string(models.StatusSubmitted),
		string(models.StatusPendingApproval),
		string(models.StatusApproved),
		string(models.StatusPendingActivation),
	}
}

// CanEdit is the single edit-eligibility check for every mutation
// entry point. Entity is the version being edited; lineage is every
// version sharing its base code (the entity itself may be included,
// it is skipped by version comparison).
//
// An active version is editable unless newer live work exists. A
// non-active version is frozen by any newer version at all, since an
// edit to a superseded row could never take effect.
func (p EditPolicy) CanEdit(entity models.VersionRef, lineage []models.VersionRef) Eligibility {
	newer := make([]BlockingVersion, 0, len(lineage))
	for _, v := range lineage {
		if v.BaseCode != entity.BaseCode || v.Version <= entity.Version {
			continue
		}
		newer = append(newer, BlockingVersion{ID: v.ID, Version: v.Version, Status: v.Status})
	}
	sort.Slice(newer, func(i, j int) bool { return newer[i].Version < newer[j].Version })

	if entity.Status == models.StatusActive {
		blocking := newer[:0:0]
		for _, v := range newer {
			if p.activeBlocking[normalize(v.Status)] || p.activeBlocking[v.Status] {
				blocking = append(blocking, v)
			}
		}
		if len(blocking) == 0 {
			return Eligibility{Allowed: true}
		}
		return Eligibility{
			Allowed:  false,
			Reason:   denialReason(entity, blocking),
			Blocking: blocking,
		}
	}

	if len(newer) == 0 {
		return Eligibility{Allowed: true}
	}
	return Eligibility{
		Allowed:  false,
		Reason:   denialReason(entity, newer),
		Blocking: newer,
	}
}

func denialReason(entity models.VersionRef, blocking []BlockingVersion) string {
	statuses := make([]string, 0, len(blocking))
	for _, v := range blocking {
		statuses = append(statuses, string(v.Status))
	}
	noun := "versions"
	if len(blocking) == 1 {
		noun = "version"
	}
	if entity.Status == models.StatusActive {
		return fmt.Sprintf(
			"version %d is active but blocked by %d newer %s still in progress (%s); finish or retire the newer work before editing this version",
			entity.Version, len(blocking), noun, strings.Join(statuses, ", "),
		)
	}
	return fmt.Sprintf(
		"version %d has status %s and has been superseded by %d newer %s (%s); superseded versions cannot be edited",
		entity.Version, entity.Status, len(blocking), noun, strings.Join(statuses, ", "),
	)
}
