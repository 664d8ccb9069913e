package models

import "time"

// ApprovalQueueItem is one record waiting on the caller's decision.
type ApprovalQueueItem struct {
	ResourceID     string     `json:"resource_id"`
	Kind           string     `json:"kind"`
	Label          string     `json:"label"`
	Status         string     `json:"status"`
	DepartmentCode string     `json:"department_code"`
	WaitingSince   *time.Time `json:"waiting_since,omitempty"`
}

// DashboardOverview aggregates catalog and enrollment state for the
// approval dashboard.
type DashboardOverview struct {
	Courses     []StatusCount       `json:"courses"`
	Degrees     []StatusCount       `json:"degrees"`
	Enrollments []StatusCount       `json:"enrollments"`
	Queue       []ApprovalQueueItem `json:"queue"`
	GeneratedAt time.Time           `json:"generated_at"`
}
