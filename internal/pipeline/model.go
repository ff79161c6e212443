// Package pipeline wires the import steps together: reference data,
// surrogate registries, per-provider hierarchy and activity imports, and
// the final activity fact tables. All registry and store mutation happens
// on the calling goroutine; only the partition phase fans out.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"activity-sync/internal/diagnostics"
	"activity-sync/internal/providers"
	"activity-sync/internal/refdata"
	"activity-sync/internal/registry"
	"activity-sync/internal/sessionizer"
	"activity-sync/internal/store"
	"activity-sync/internal/versions"
)

// DBName is the embedded store file created under the resources directory.
const DBName = "ActivitySync.db"

// Paths names every input the pipeline consumes. Provider-keyed maps use
// adapter names (unified, foxford, meo, uchi).
type Paths struct {
	Resources string

	Billing                string
	StudentGrades          string
	ExternalSystem         string
	CourseTypes            string
	ProfileInstitution     string
	EducationalInstitution string

	CourseStructure  map[string]string
	CourseStatistics map[string]string
}

// Options carries the run-level knobs.
type Options struct {
	SessionGap    time.Duration
	ActiveSeconds int64

	// MinuteActivity selects the duration-threshold activity mode; without
	// it a day counts as active on any event. The modes are never mixed
	// within one run.
	MinuteActivity bool

	// FreezeDate, when set (YYYY-MM-DD), excludes facts on or after it from
	// the active day tables.
	FreezeDate string

	MaxWorkers int
}

// Model owns the shared state every import step consults: the embedded
// store, the surrogate registries, the version tracker and reference data.
type Model struct {
	log   *slog.Logger
	paths Paths
	opts  Options

	st      *store.Store
	tracker *versions.Tracker
	ref     *refdata.RefData
	sink    *diagnostics.Sink

	profiles     *registry.Registry
	institutions *registry.Registry
	courses      *registry.Registry
	contentIDs   *registry.Registry

	// contentToCourse maps a content surrogate to its course surrogate.
	// Merged during structure imports, loaded from course_information at
	// open; append/update-only within a run.
	contentToCourse map[int64]int64

	hasNewData bool
}

func New(paths Paths, opts Options, log *slog.Logger) (*Model, error) {
	st, err := store.Open(filepath.Join(paths.Resources, DBName))
	if err != nil {
		return nil, err
	}

	m := &Model{
		log:             log,
		paths:           paths,
		opts:            opts,
		st:              st,
		sink:            diagnostics.NewSink(),
		contentToCourse: map[int64]int64{},
	}

	if m.tracker, err = versions.NewTracker(st.DB); err != nil {
		return nil, err
	}
	if m.profiles, err = registry.Open(st.DB, "profile_id"); err != nil {
		return nil, err
	}
	if m.institutions, err = registry.Open(st.DB, "educational_institution_id"); err != nil {
		return nil, err
	}
	if m.courses, err = registry.Open(st.DB, "provider_course_name"); err != nil {
		return nil, err
	}
	if m.contentIDs, err = registry.Open(st.DB, "educational_course_id"); err != nil {
		return nil, err
	}
	if m.ref, err = refdata.Load(paths.ExternalSystem, paths.CourseTypes); err != nil {
		return nil, err
	}
	if err := m.loadContentToCourse(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) Close() error {
	return m.st.Close()
}

func (m *Model) loadContentToCourse() error {
	exists, err := m.st.TableExists("course_information")
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	rows, err := m.st.DB.Query("SELECT educational_course_id, course_id FROM course_information")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var content, course int64
		if err := rows.Scan(&content, &course); err != nil {
			return err
		}
		m.contentToCourse[content] = course
	}
	return rows.Err()
}

func (m *Model) sessionOptions(base sessionizer.Options) sessionizer.Options {
	if base.Gap == 0 {
		base.Gap = m.opts.SessionGap
	}
	if base.ActiveSeconds == 0 {
		base.ActiveSeconds = m.opts.ActiveSeconds
	}
	if !m.opts.MinuteActivity {
		base.Mode = sessionizer.CountDistinctDays
	}
	return base
}

// Run executes the full import: reference tables first, then one provider
// at a time, then the cross-provider views. Fatal errors abort naming the
// step; recoverable per-record drops accumulate in the diagnostics sink.
func (m *Model) Run(ctx context.Context) error {
	m.log.Info("loading previous state",
		"profiles", m.profiles.Len(),
		"courses", m.courses.Len(),
		"content_ids", m.contentIDs.Len(),
	)

	if err := m.importBilling(m.paths.Billing); err != nil {
		return fmt.Errorf("billing import: %w", err)
	}
	if err := m.importInstitutions(m.paths.EducationalInstitution); err != nil {
		return fmt.Errorf("institution import: %w", err)
	}
	if err := m.importProfiles(m.paths.ProfileInstitution); err != nil {
		return fmt.Errorf("profile import: %w", err)
	}
	if err := m.importGrades(m.paths.StudentGrades); err != nil {
		return fmt.Errorf("grade import: %w", err)
	}

	for _, adapter := range providers.All() {
		if err := m.importProvider(ctx, adapter); err != nil {
			return fmt.Errorf("provider %s: %w", adapter.Name(), err)
		}
	}

	if m.hasNewData {
		if err := m.rebuildViews(); err != nil {
			return fmt.Errorf("rebuild views: %w", err)
		}
	}

	if err := m.sink.Flush(); err != nil {
		return err
	}
	for _, line := range m.sink.Summary() {
		m.log.Warn("dropped records", "detail", line)
	}
	m.log.Info("import finished", "dropped_total", m.sink.Total(), "new_data", m.hasNewData)
	return nil
}
