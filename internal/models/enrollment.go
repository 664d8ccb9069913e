package models

import (
	"time"

	"github.com/lib/pq"
)

// EnrollmentStatus tracks an enrollment record through the two-stage
// approval pipeline.
type EnrollmentStatus string

const (
	EnrollmentDraft         EnrollmentStatus = "draft"
	EnrollmentPendingHOD    EnrollmentStatus = "pending_hod_approval"
	EnrollmentPendingOffice EnrollmentStatus = "pending_office_approval"
	EnrollmentApproved      EnrollmentStatus = "approved"
	EnrollmentRejected      EnrollmentStatus = "rejected"
	EnrollmentWithdrawn     EnrollmentStatus = "withdrawn"
)

// Terminal reports whether no further decisions may touch the record.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentApproved || s == EnrollmentRejected || s == EnrollmentWithdrawn
}

// EnrollmentStage names one of the two approval stages.
type EnrollmentStage string

const (
	StageHOD    EnrollmentStage = "hod"
	StageOffice EnrollmentStage = "office"
)

// Valid reports whether the stage is one of the two known stages.
func (s EnrollmentStage) Valid() bool {
	return s == StageHOD || s == StageOffice
}

// Enrollment is a student's course selection for one academic period.
// At most one record per (student, year, semester) may be live, i.e.
// not rejected and not withdrawn; the unique partial index enforces
// it at the persistence boundary.
type Enrollment struct {
	ID               string           `db:"id" json:"id"`
	StudentID        string           `db:"student_id" json:"student_id"`
	DepartmentCode   string           `db:"department_code" json:"department_code"`
	AcademicYear     string           `db:"academic_year" json:"academic_year"`
	Semester         int              `db:"semester" json:"semester"`
	CourseCodes      pq.StringArray   `db:"course_codes" json:"course_codes" swaggertype:"array,string"`
	Status           EnrollmentStatus `db:"status" json:"status"`
	SubmittedAt      *time.Time       `db:"submitted_at" json:"submitted_at,omitempty"`
	HodApprovedBy    *string          `db:"hod_approved_by" json:"hod_approved_by,omitempty"`
	HodApprovedAt    *time.Time       `db:"hod_approved_at" json:"hod_approved_at,omitempty"`
	OfficeApprovedBy *string          `db:"office_approved_by" json:"office_approved_by,omitempty"`
	OfficeApprovedAt *time.Time       `db:"office_approved_at" json:"office_approved_at,omitempty"`
	RejectedBy       *string          `db:"rejected_by" json:"rejected_by,omitempty"`
	RejectedAt       *time.Time       `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectedStage    *EnrollmentStage `db:"rejected_stage" json:"rejected_stage,omitempty"`
	RejectReason     *string          `db:"reject_reason" json:"reject_reason,omitempty"`
	WithdrawnAt      *time.Time       `db:"withdrawn_at" json:"withdrawn_at,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentFilter defines filters supported by list endpoints.
type EnrollmentFilter struct {
	StudentID      string
	DepartmentCode string
	AcademicYear   string
	Semester       int
	Status         EnrollmentStatus
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}
