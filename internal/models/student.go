package models

import "time"

// Student is the reference record the enrollment pipeline validates
// against. Identity and academic history live in other systems.
type Student struct {
	ID             string    `db:"id" json:"id"`
	Number         string    `db:"number" json:"number"`
	FullName       string    `db:"full_name" json:"full_name"`
	DepartmentCode string    `db:"department_code" json:"department_code"`
	CohortYear     int       `db:"cohort_year" json:"cohort_year"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search         string
	DepartmentCode string
	CohortYear     int
	Active         *bool
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}
