package models

// Course is one version of a course in the academic catalog.
type Course struct {
	Versioned
	Title          string `db:"title" json:"title"`
	Description    string `db:"description" json:"description"`
	Credits        int    `db:"credits" json:"credits"`
	DepartmentCode string `db:"department_code" json:"department_code"`
	Level          string `db:"level" json:"level"`
}

// CourseFilter captures filtering criteria for listing courses.
type CourseFilter struct {
	BaseCode       string
	DepartmentCode string
	Status         Status
	LatestOnly     bool
	Search         string
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}
