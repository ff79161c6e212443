package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"activity-sync/internal/concurrency"
	"activity-sync/internal/domain"
	"activity-sync/internal/hierarchy"
	"activity-sync/internal/providers"
	"activity-sync/internal/sessionizer"
)

// source overlays the run-level sessionization knobs onto a provider
// adapter before handing it to the partition scan.
type source struct {
	providers.ActivityAdapter
	session sessionizer.Options
}

func (s source) Session() sessionizer.Options { return s.session }

func (m *Model) importProvider(ctx context.Context, adapter providers.ActivityAdapter) error {
	structurePath := m.paths.CourseStructure[adapter.Name()]
	statsDir := m.paths.CourseStatistics[adapter.Name()]
	if structurePath == "" && statsDir == "" {
		m.log.Info("no inputs configured, skipping", "provider", adapter.Name())
		return nil
	}

	var resolver *hierarchy.Resolver
	if structurePath != "" {
		var err error
		resolver, err = m.importStructure(adapter, structurePath)
		if err != nil {
			return err
		}
	}
	if statsDir != "" {
		if err := m.importStatistics(ctx, adapter, resolver, statsDir); err != nil {
			return err
		}
	}
	return nil
}

// importStructure rebuilds the provider's content tree from the latest
// dump. The in-memory resolver and the content→course lookup are rebuilt
// every run (trees are per-run state); the course_information table rewrite
// is gated by the version tracker.
func (m *Model) importStructure(adapter providers.ActivityAdapter, path string) (*hierarchy.Resolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open structure %s: %w", path, err)
	}
	nodes, err := adapter.ParseHierarchy(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	resolver, err := hierarchy.NewResolver(nodes, adapter.ResolverOptions(m.ref))
	if err != nil {
		return nil, fmt.Errorf("structure %s: %w", path, err)
	}
	mapping, unresolved, err := resolver.Mapping()
	if err != nil {
		return nil, fmt.Errorf("structure %s: %w", path, err)
	}
	if unresolved > 0 {
		m.sink.Add(path, "unresolved_node", unresolved)
	}

	type infoRow struct {
		contentKey  int64
		contentUUID string
		courseName  string
		provider    string
		courseID    int64
		isDeleted   bool
	}
	rows := make([]infoRow, 0, len(mapping))
	providerSet := map[string]bool{}
	for _, cm := range mapping {
		key := mergeProviderCourseName(cm.Provider, cm.CourseName)
		// Course keys are allocated by the billing import only; a structure
		// course without billing info cannot be charged and is dropped.
		courseID, ok := m.courses.Get(key)
		if !ok {
			m.sink.Drop(path, "provider_course_name", []string{cm.EducationalCourseID, cm.Provider, cm.CourseName})
			continue
		}
		contentKey, err := m.contentIDs.GetOrCreate(cm.EducationalCourseID)
		if err != nil {
			return nil, err
		}
		m.contentToCourse[contentKey] = courseID
		providerSet[cm.Provider] = true
		rows = append(rows, infoRow{
			contentKey:  contentKey,
			contentUUID: cm.EducationalCourseID,
			courseName:  cm.CourseName,
			provider:    cm.Provider,
			courseID:    courseID,
			isDeleted:   cm.IsDeleted,
		})
	}

	isNew, err := m.tracker.IsNewVersion(path)
	if err != nil {
		return nil, err
	}
	if !isNew {
		return resolver, nil
	}
	m.log.Info("importing course structure", "provider", adapter.Name(), "nodes", resolver.Len(), "courses", len(rows))

	tx, err := m.st.DB.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	exists, err := m.st.TableExists("course_information")
	if err != nil {
		return nil, err
	}
	if exists {
		// Keep a backup of the previous snapshot, then replace only the
		// rows owned by the providers present in this dump.
		if _, err := tx.Exec("DROP TABLE IF EXISTS course_information_backup"); err != nil {
			return nil, err
		}
		if _, err := tx.Exec("CREATE TABLE course_information_backup AS SELECT * FROM course_information"); err != nil {
			return nil, err
		}
		for p := range providerSet {
			if _, err := tx.Exec("DELETE FROM course_information WHERE provider = ?", p); err != nil {
				return nil, err
			}
		}
	} else {
		_, err = tx.Exec(`CREATE TABLE course_information (
			educational_course_id INT PRIMARY KEY,
			educational_course_id_uuid TEXT UNIQUE NOT NULL,
			course_name TEXT NOT NULL,
			provider TEXT NOT NULL,
			course_id INT NOT NULL,
			is_deleted INT NOT NULL
		)`)
		if err != nil {
			return nil, err
		}
	}

	for _, r := range rows {
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO course_information (educational_course_id, educational_course_id_uuid, course_name, provider, course_id, is_deleted) VALUES (?, ?, ?, ?, ?, ?)",
			r.contentKey, r.contentUUID, r.courseName, r.provider, r.courseID, boolToInt(r.isDeleted),
		)
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if err := m.tracker.MarkProcessed(path); err != nil {
		return nil, err
	}
	return resolver, nil
}

// listDumpFiles returns the raw partition files of a provider drop
// directory, in name order. Hidden files and previous outputs (underscore
// prefix) are skipped.
func listDumpFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dump dir %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		if !strings.HasSuffix(name, ".csv") && !strings.HasSuffix(name, ".csv.bz2") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

type partitionResult struct {
	outPath string
	skipped bool
	dropped int
}

// importStatistics runs the two-phase activity import: a parallel map over
// independent partition files, then a single-threaded reduce that
// resurrogates ids and appends facts. Only the reduce phase touches the
// registries and the store.
func (m *Model) importStatistics(ctx context.Context, adapter providers.ActivityAdapter, resolver *hierarchy.Resolver, dir string) error {
	files, err := listDumpFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	m.log.Info("importing course statistics", "provider", adapter.Name(), "partitions", len(files))

	src := source{ActivityAdapter: adapter, session: m.sessionOptions(adapter.Session())}

	results, errs := concurrency.ProcessParallel(ctx, files,
		concurrency.ParallelOptions{MaxWorkers: m.opts.MaxWorkers},
		func(ctx context.Context, index int, file string) (partitionResult, error) {
			outPath, skipped, dropped, err := sessionizer.ProcessPartition(src, file)
			return partitionResult{outPath: outPath, skipped: skipped, dropped: dropped}, err
		})
	if len(errs) > 0 {
		// Failed partitions left no output; the whole batch aborts and the
		// next run retries them from scratch.
		return errors.Join(errs...)
	}

	statsTable := "course_statistics_" + adapter.Name()
	_, err = m.st.DB.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		profile_id INT NOT NULL,
		course_id INT NOT NULL,
		date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		dt INT NOT NULL
	)`, statsTable))
	if err != nil {
		return err
	}

	providerHasNew := false
	reused := 0
	for i, file := range files {
		res := results[i]
		if res.skipped {
			reused++
		}
		m.sink.Add(file, "invalid_record", res.dropped)

		isNew, err := m.tracker.IsNewVersion(res.outPath)
		if err != nil {
			return err
		}
		if !isNew {
			continue
		}

		rows, err := sessionizer.ReadPartition(res.outPath)
		if err != nil {
			return err
		}
		facts := m.resurrogate(resolver, rows, res.outPath)

		tx, err := m.st.DB.Beginx()
		if err != nil {
			return err
		}
		for _, fact := range facts {
			_, err := tx.NamedExec(fmt.Sprintf(
				"INSERT INTO %s (profile_id, course_id, date, start_time, end_time, dt) VALUES (:profile_id, :course_id, :date, :start_time, :end_time, :dt)",
				statsTable), fact)
			if err != nil {
				tx.Rollback()
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		// The baseline only moves after the facts are committed; a crash
		// above leaves it unchanged and the next run retries the file.
		if err := m.tracker.MarkProcessed(res.outPath); err != nil {
			return err
		}
		providerHasNew = true
		m.hasNewData = true
	}

	m.log.Info("statistics imported", "provider", adapter.Name(),
		"partitions", len(files), "reused", reused)

	if providerHasNew {
		if err := m.rebuildActiveDays(adapter.Name(), src.session); err != nil {
			return err
		}
	}
	return nil
}

// resurrogate rewrites one partition's session rows onto internal integer
// keys. Rows whose person or content cannot be resolved are dropped with a
// recorded reason, never kept with null keys.
func (m *Model) resurrogate(resolver *hierarchy.Resolver, rows []domain.SessionRow, sourcePath string) []domain.ActivityFact {
	facts := make([]domain.ActivityFact, 0, len(rows))
	for _, row := range rows {
		profileKey, ok := m.profiles.Get(row.ProfileID)
		if !ok {
			m.sink.Drop(sourcePath, "profile_id", []string{row.ProfileID, row.ContentID, row.Date})
			continue
		}
		var courseID int64
		resolved := false
		if resolver != nil {
			if nodeID, ok := resolver.Match(row.ContentID); ok {
				if contentKey, ok := m.contentIDs.Get(nodeID); ok {
					courseID, resolved = m.contentToCourse[contentKey]
				}
			}
		}
		if !resolved {
			m.sink.Drop(sourcePath, "educational_course_id", []string{row.ProfileID, row.ContentID, row.Date})
			continue
		}
		facts = append(facts, domain.ActivityFact{
			ProfileID: profileKey,
			CourseID:  courseID,
			Date:      row.Date,
			Start:     row.Start.Format("2006-01-02 15:04:05"),
			End:       row.End.Format("2006-01-02 15:04:05"),
			DT:        row.DT,
		})
	}
	return facts
}

// rebuildActiveDays derives the daily activity facts for one provider from
// its session table. The activity rule itself (duration threshold vs
// distinct-day mode) lives in sessionizer.AggregateDays; this only loads the
// facts, applies the freeze date and persists the result.
func (m *Model) rebuildActiveDays(provider string, opts sessionizer.Options) error {
	statsTable := "course_statistics_" + provider
	activeTable := "active_days_" + provider
	countTable := "active_days_count_" + provider

	query := "SELECT profile_id, course_id, date, start_time, end_time, dt FROM " + statsTable
	var args []any
	if m.opts.FreezeDate != "" {
		query += " WHERE date < ?"
		args = append(args, m.opts.FreezeDate)
	}
	var facts []domain.ActivityFact
	if err := m.st.DB.Select(&facts, query, args...); err != nil {
		return err
	}
	days := sessionizer.AggregateDays(facts, opts)

	tx, err := m.st.DB.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DROP TABLE IF EXISTS " + activeTable); err != nil {
		return err
	}
	_, err = tx.Exec(fmt.Sprintf(`CREATE TABLE %s (
		profile_id INT NOT NULL,
		course_id INT NOT NULL,
		date TEXT NOT NULL,
		active_time INT NOT NULL,
		is_active INT NOT NULL
	)`, activeTable))
	if err != nil {
		return err
	}
	for _, day := range days {
		_, err := tx.Exec(fmt.Sprintf(
			"INSERT INTO %s (profile_id, course_id, date, active_time, is_active) VALUES (?, ?, ?, ?, ?)",
			activeTable),
			day.ProfileID, day.CourseID, day.Date, day.ActiveTime, boolToInt(day.IsActive))
		if err != nil {
			return err
		}
	}

	if _, err := tx.Exec("DROP TABLE IF EXISTS " + countTable); err != nil {
		return err
	}
	_, err = tx.Exec(fmt.Sprintf(`CREATE TABLE %s AS
		SELECT course_id, profile_id,
		       CAST(COUNT(CASE WHEN is_active = 1 THEN 1 ELSE NULL END) AS INTEGER) AS active_days
		FROM %s
		GROUP BY course_id, profile_id`,
		countTable, activeTable))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// rebuildViews refreshes the unified cross-provider views over the
// per-provider fact tables.
func (m *Model) rebuildViews() error {
	var statsSelects, activeSelects []string
	for _, adapter := range providers.All() {
		name := adapter.Name()
		if ok, err := m.st.TableExists("course_statistics_" + name); err != nil {
			return err
		} else if ok {
			statsSelects = append(statsSelects, fmt.Sprintf(
				"SELECT '%s' AS source, profile_id, course_id, date, start_time, end_time, dt FROM course_statistics_%s", name, name))
		}
		if ok, err := m.st.TableExists("active_days_" + name); err != nil {
			return err
		} else if ok {
			activeSelects = append(activeSelects, fmt.Sprintf(
				"SELECT '%s' AS source, profile_id, course_id, date, active_time, is_active FROM active_days_%s", name, name))
		}
	}

	if _, err := m.st.DB.Exec("DROP VIEW IF EXISTS course_statistics_all"); err != nil {
		return err
	}
	if len(statsSelects) > 0 {
		if _, err := m.st.DB.Exec("CREATE VIEW course_statistics_all AS " + strings.Join(statsSelects, " UNION ALL ")); err != nil {
			return err
		}
	}

	if _, err := m.st.DB.Exec("DROP VIEW IF EXISTS active_days_all"); err != nil {
		return err
	}
	if len(activeSelects) > 0 {
		if _, err := m.st.DB.Exec("CREATE VIEW active_days_all AS " + strings.Join(activeSelects, " UNION ALL ")); err != nil {
			return err
		}
	}
	return nil
}
