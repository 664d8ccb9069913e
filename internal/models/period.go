package models

import "time"

// Period is an academic period (year plus semester). Enrollment
// records are keyed by it; at most one period is current at a time.
type Period struct {
	ID              string    `db:"id" json:"id"`
	AcademicYear    string    `db:"academic_year" json:"academic_year"`
	Semester        int       `db:"semester" json:"semester"`
	Name            string    `db:"name" json:"name"`
	StartDate       time.Time `db:"start_date" json:"start_date"`
	EndDate         time.Time `db:"end_date" json:"end_date"`
	EnrollmentOpen  time.Time `db:"enrollment_open" json:"enrollment_open"`
	EnrollmentClose time.Time `db:"enrollment_close" json:"enrollment_close"`
	IsCurrent       bool      `db:"is_current" json:"is_current"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// AcceptsEnrollments reports whether the enrollment window is open at t.
func (p Period) AcceptsEnrollments(t time.Time) bool {
	return !t.Before(p.EnrollmentOpen) && !t.After(p.EnrollmentClose)
}

// PeriodFilter defines filters supported by period list endpoints.
type PeriodFilter struct {
	AcademicYear string
	Semester     int
	IsCurrent    *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
