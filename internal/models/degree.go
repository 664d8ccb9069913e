package models

// Degree is one version of a degree program in the academic catalog.
// It shares the full lifecycle and lineage semantics with Course.
type Degree struct {
	Versioned
	Title             string `db:"title" json:"title"`
	Description       string `db:"description" json:"description"`
	Level             string `db:"level" json:"level"`
	DurationSemesters int    `db:"duration_semesters" json:"duration_semesters"`
	DepartmentCode    string `db:"department_code" json:"department_code"`
}

// DegreeFilter captures filtering criteria for listing degrees.
type DegreeFilter struct {
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
