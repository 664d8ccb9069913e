// Command lineage-audit scans the catalog tables for version lineage
// damage: base codes with zero or several latest rows, latest rows that
// are not the highest version, dangling parent references and duplicate
// versions. It also checks that no student holds more than one live
// enrollment for the same period. Run it after manual data surgery or
// a restore; a non-zero exit means at least one violation was found.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acadeon/curricula-api/pkg/config"
	"github.com/acadeon/curricula-api/pkg/database"
)

type violation struct {
	Table  string
	Detail string
}

func main() {
	var (
		entity  string
		timeout time.Duration
	)
	flag.StringVar(&entity, "entity", "all", "catalog to audit: courses, degrees or all")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "database query timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	tables := catalogTables(entity)
	if tables == nil {
		log.Fatalf("unknown entity %q, want courses, degrees or all", entity)
	}

	var violations []violation
	for _, table := range tables {
		found, err := auditCatalog(ctx, db, table)
		if err != nil {
			log.Fatalf("audit of %s failed: %v", table, err)
		}
		violations = append(violations, found...)
	}
	if entity == "all" {
		found, err := auditEnrollments(ctx, db)
		if err != nil {
			log.Fatalf("audit of enrollments failed: %v", err)
		}
		violations = append(violations, found...)
	}

	for _, v := range violations {
		fmt.Printf("%-12s %s\n", v.Table, v.Detail)
	}
	fmt.Printf("Violations: %d\n", len(violations))
	if len(violations) > 0 {
		os.Exit(1)
	}
}

func catalogTables(entity string) []string {
	switch entity {
	case "courses":
		return []string{"courses"}
	case "degrees":
		return []string{"degrees"}
	case "all":
		return []string{"courses", "degrees"}
	default:
		return nil
	}
}

// auditCatalog runs the four lineage checks against one catalog table.
// The table name comes from the fixed list above, never from input.
func auditCatalog(ctx context.Context, db *sqlx.DB, table string) ([]violation, error) {
	var violations []violation

	var latestCounts []struct {
		BaseCode    string `db:"base_code"`
		LatestCount int    `db:"latest_count"`
	}
	query := fmt.Sprintf(`SELECT base_code, COUNT(*) FILTER (WHERE is_latest_version) AS latest_count
	FROM %s GROUP BY base_code
	HAVING COUNT(*) FILTER (WHERE is_latest_version) <> 1
	ORDER BY base_code`, table)
	if err := db.SelectContext(ctx, &latestCounts, query); err != nil {
		return nil, fmt.Errorf("latest flag cardinality: %w", err)
	}
	for _, row := range latestCounts {
		violations = append(violations, violation{
			Table:  table,
			Detail: fmt.Sprintf("base code %s carries %d latest rows, want exactly 1", row.BaseCode, row.LatestCount),
		})
	}

	var staleLatest []struct {
		BaseCode      string `db:"base_code"`
		LatestVersion int    `db:"latest_version"`
		MaxVersion    int    `db:"max_version"`
	}
	query = fmt.Sprintf(`SELECT c.base_code, c.version AS latest_version, m.max_version
	FROM %[1]s c
	JOIN (SELECT base_code, MAX(version) AS max_version FROM %[1]s GROUP BY base_code) m
	  ON m.base_code = c.base_code
	WHERE c.is_latest_version AND c.version <> m.max_version
	ORDER BY c.base_code`, table)
	if err := db.SelectContext(ctx, &staleLatest, query); err != nil {
		return nil, fmt.Errorf("latest not max: %w", err)
	}
	for _, row := range staleLatest {
		violations = append(violations, violation{
			Table:  table,
			Detail: fmt.Sprintf("base code %s marks v%d latest but v%d exists", row.BaseCode, row.LatestVersion, row.MaxVersion),
		})
	}

	var danglingParents []struct {
		ID       string `db:"id"`
		BaseCode string `db:"base_code"`
		Version  int    `db:"version"`
		ParentID string `db:"parent_entity_id"`
	}
	query = fmt.Sprintf(`SELECT c.id, c.base_code, c.version, c.parent_entity_id
	FROM %[1]s c
	LEFT JOIN %[1]s p ON p.id = c.parent_entity_id
	WHERE c.parent_entity_id IS NOT NULL AND p.id IS NULL
	ORDER BY c.base_code, c.version`, table)
	if err := db.SelectContext(ctx, &danglingParents, query); err != nil {
		return nil, fmt.Errorf("dangling parents: %w", err)
	}
	for _, row := range danglingParents {
		violations = append(violations, violation{
			Table:  table,
			Detail: fmt.Sprintf("%s v%d (%s) references missing parent %s", row.BaseCode, row.Version, row.ID, row.ParentID),
		})
	}

	var duplicateVersions []struct {
		BaseCode string `db:"base_code"`
		Version  int    `db:"version"`
		Count    int    `db:"count"`
	}
	query = fmt.Sprintf(`SELECT base_code, version, COUNT(*) AS count
	FROM %s GROUP BY base_code, version
	HAVING COUNT(*) > 1
	ORDER BY base_code, version`, table)
	if err := db.SelectContext(ctx, &duplicateVersions, query); err != nil {
		return nil, fmt.Errorf("duplicate versions: %w", err)
	}
	for _, row := range duplicateVersions {
		violations = append(violations, violation{
			Table:  table,
			Detail: fmt.Sprintf("base code %s has %d rows for v%d", row.BaseCode, row.Count, row.Version),
		})
	}

	return violations, nil
}

// auditEnrollments flags students holding more than one live record for
// the same academic period. The partial unique index should make this
// impossible; the check exists for databases restored from before the
// index was introduced.
func auditEnrollments(ctx context.Context, db *sqlx.DB) ([]violation, error) {
	var rows []struct {
		StudentID    string `db:"student_id"`
		AcademicYear string `db:"academic_year"`
		Semester     int    `db:"semester"`
		LiveCount    int    `db:"live_count"`
	}
	const query = `SELECT student_id, academic_year, semester, COUNT(*) AS live_count
	FROM enrollments
	WHERE status NOT IN ('rejected', 'withdrawn')
	GROUP BY student_id, academic_year, semester
	HAVING COUNT(*) > 1
	ORDER BY student_id, academic_year, semester`
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	var violations []violation
	for _, row := range rows {
		violations = append(violations, violation{
			Table:  "enrollments",
			Detail: fmt.Sprintf("student %s holds %d live records for %s semester %d", row.StudentID, row.LiveCount, row.AcademicYear, row.Semester),
		})
	}
	return violations, nil
}
