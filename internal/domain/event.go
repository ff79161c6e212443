package domain

import "time"

// RawEvent is one normalized activity record produced by a provider adapter.
// ProfileID and ContentID still carry the provider's external ids at this
// stage; conversion to internal surrogate keys happens in the append phase.
type RawEvent struct {
	ProfileID string
	ContentID string
	CreatedAt time.Time

	// Duration is non-zero only for providers whose dumps are already
	// aggregated per day (MEO ships one row per day with a dwell time).
	Duration int64
}

// SessionRow is one sessionized output row written to a partition file.
// Ids are still external; Date is the day of the first event in the run.
type SessionRow struct {
	ProfileID string
	ContentID string
	Date      string // YYYY-MM-DD
	Start     time.Time
	End       time.Time
	DT        int64 // seconds
}

// ActivityFact is the resurrogated sink row, keyed by internal integer ids.
type ActivityFact struct {
	ProfileID int64  `db:"profile_id"`
	CourseID  int64  `db:"course_id"`
	Date      string `db:"date"`
	Start     string `db:"start_time"`
	End       string `db:"end_time"`
	DT        int64  `db:"dt"`
}
