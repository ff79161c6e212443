// Package sessionizer compresses timestamped activity events into bounded
// sessions and daily activity rows. The scan is a plain linear pass over a
// sorted event stream carrying per-group state, which is easier to audit
// than windowed array tricks.
package sessionizer

import (
	"sort"
	"time"

	"activity-sync/internal/domain"
)

// Mode selects the activity unit for a deployment. The two modes are
// mutually exclusive within one run.
type Mode int

const (
	// DurationThreshold flags a day active when the summed session duration
	// exceeds ActiveSeconds.
	DurationThreshold Mode = iota
	// CountDistinctDays counts every day with at least one event, with no
	// duration threshold.
	CountDistinctDays
)

const (
	DefaultGap           = 45 * time.Minute
	DefaultActiveSeconds = 600
)

// Options configures sessionization for one provider.
type Options struct {
	// Gap is the maximum distance between consecutive events of the same
	// (person, content) pair inside one session.
	Gap time.Duration

	// ActiveSeconds is the daily dwell threshold. A day is active when the
	// summed dt is strictly greater than this value.
	ActiveSeconds int64

	Mode Mode

	// Presessionized marks dumps whose rows already carry a per-day
	// duration; such rows map one-to-one onto session rows with no scan.
	Presessionized bool
}

func (o Options) withDefaults() Options {
	if o.Gap <= 0 {
		o.Gap = DefaultGap
	}
	if o.ActiveSeconds <= 0 {
		o.ActiveSeconds = DefaultActiveSeconds
	}
	return o
}

// Sessionize merges events into maximal runs. Events need not be sorted;
// the scan orders them by (profile, content, timestamp) first. A boundary
// falls between two consecutive events when the key changes or the gap
// exceeds the threshold. Each run yields one row: start is the minimum
// timestamp, end the maximum, date the day of the first event, dt the
// extent in seconds. A single-event run has dt = 0.
func Sessionize(events []domain.RawEvent, opts Options) []domain.SessionRow {
	opts = opts.withDefaults()

	if opts.Presessionized {
		return presessionizedRows(events)
	}
	if len(events) == 0 {
		return nil
	}

	sorted := make([]domain.RawEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.ProfileID != b.ProfileID {
			return a.ProfileID < b.ProfileID
		}
		if a.ContentID != b.ContentID {
			return a.ContentID < b.ContentID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	var rows []domain.SessionRow
	current := newRun(sorted[0])
	for _, ev := range sorted[1:] {
		if ev.ProfileID != current.ProfileID || ev.ContentID != current.ContentID ||
			ev.CreatedAt.Sub(current.End) > opts.Gap {
			rows = append(rows, current)
			current = newRun(ev)
			continue
		}
		// In-gap click events extend the run's extent even though they carry
		// no duration of their own.
		if ev.CreatedAt.After(current.End) {
			current.End = ev.CreatedAt
			current.DT = int64(current.End.Sub(current.Start) / time.Second)
		}
	}
	rows = append(rows, current)
	return rows
}

func newRun(ev domain.RawEvent) domain.SessionRow {
	return domain.SessionRow{
		ProfileID: ev.ProfileID,
		ContentID: ev.ContentID,
		Date:      ev.CreatedAt.Format("2006-01-02"),
		Start:     ev.CreatedAt,
		End:       ev.CreatedAt,
		DT:        0,
	}
}

func presessionizedRows(events []domain.RawEvent) []domain.SessionRow {
	if len(events) == 0 {
		return nil
	}
	rows := make([]domain.SessionRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, domain.SessionRow{
			ProfileID: ev.ProfileID,
			ContentID: ev.ContentID,
			Date:      ev.CreatedAt.Format("2006-01-02"),
			Start:     ev.CreatedAt,
			End:       ev.CreatedAt,
			DT:        ev.Duration,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.ProfileID != b.ProfileID {
			return a.ProfileID < b.ProfileID
		}
		if a.ContentID != b.ContentID {
			return a.ContentID < b.ContentID
		}
		return a.Date < b.Date
	})
	return rows
}

// DayActivity is one per-day activity total over resurrogated facts.
type DayActivity struct {
	ProfileID  int64
	CourseID   int64
	Date       string
	ActiveTime int64
	IsActive   bool
}

// AggregateDays sums dt per (profile, course, date) and applies the
// activity rule for the configured mode: in duration mode a day is active
// when the total is strictly greater than ActiveSeconds, in distinct-day
// mode any day with an event counts. Input order is preserved by first-seen
// day.
func AggregateDays(facts []domain.ActivityFact, opts Options) []DayActivity {
	opts = opts.withDefaults()

	type key struct {
		profile, course int64
		date            string
	}
	totals := map[key]int64{}
	var order []key
	for _, fact := range facts {
		k := key{fact.ProfileID, fact.CourseID, fact.Date}
		if _, ok := totals[k]; !ok {
			order = append(order, k)
		}
		totals[k] += fact.DT
	}

	out := make([]DayActivity, 0, len(order))
	for _, k := range order {
		total := totals[k]
		active := total > opts.ActiveSeconds
		if opts.Mode == CountDistinctDays {
			active = true
		}
		out = append(out, DayActivity{
			ProfileID:  k.profile,
			CourseID:   k.course,
			Date:       k.date,
			ActiveTime: total,
			IsActive:   active,
		})
	}
	return out
}
