// Package dashboard serves cached faculty counters and derived student and department stats.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"campusflow/internal/attendance"
	"campusflow/internal/logging"
	"campusflow/internal/metrics"
	"campusflow/internal/workflow"
)

// DefaultTTL is how long a faculty snapshot is served without recomputation.
const DefaultTTL = 5 * time.Minute

// recomputeAttempts bounds retries when a mutation lands between counting and saving.
const recomputeAttempts = 3

// Source is the persistence the aggregator reads and maintains.
type Source interface {
	GetFacultyStats(ctx context.Context, facultyID string) (workflow.FacultyStats, error)
	SaveFacultyStats(ctx context.Context, s workflow.FacultyStats, prevVersion int64) (bool, error)
	AdjustFacultyStats(ctx context.Context, facultyID string, delta workflow.StatsDelta) error
	MarkFacultyStatsDirty(ctx context.Context, facultyID string) error
	FacultyCounts(ctx context.Context, facultyID string) (int, workflow.Counts, error)
	StudentCounts(ctx context.Context, studentID string) (workflow.Counts, error)
	DepartmentSummary(ctx context.Context, collegeID, department string) (workflow.DepartmentSummary, error)
}

// Attendance summarises attendance for a set of students.
type Attendance interface {
	Summary(ctx context.Context, studentIDs ...string) (attendance.Summary, error)
}

// StudentStats is the student dashboard payload.
type StudentStats struct {
	StudentID  string             `json:"student_id"`
	Counts     workflow.Counts    `json:"counts"`
	Attendance attendance.Summary `json:"attendance"`
}

// DepartmentReport is the HOD department performance payload.
type DepartmentReport struct {
	workflow.DepartmentSummary
	Students          int `json:"students"`
	AttendancePercent int `json:"attendance_percent"`
	Score             int `json:"score"`
}

// Aggregator implements workflow.StatsCache on top of the persisted snapshot.
type Aggregator struct {
	src   Source
	att   Attendance
	ttl   time.Duration
	cache *expirable.LRU[string, workflow.FacultyStats]
	now   func() time.Time
}

// New creates an aggregator. The in-process cache holds up to size faculty snapshots.
func New(src Source, att Attendance, ttl time.Duration, size int) *Aggregator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if size <= 0 {
		size = 1024
	}
	return &Aggregator{
		src:   src,
		att:   att,
		ttl:   ttl,
		cache: expirable.NewLRU[string, workflow.FacultyStats](size, nil, ttl),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// FacultyStats returns the faculty counters, recomputing them when the snapshot is stale.
func (a *Aggregator) FacultyStats(ctx context.Context, facultyID string) (workflow.FacultyStats, error) {
	now := a.now()
	if st, ok := a.cache.Get(facultyID); ok && st.Fresh(now, a.ttl) {
		metrics.DashboardReads.WithLabelValues("memory").Inc()
		return st, nil
	}

	st, err := a.src.GetFacultyStats(ctx, facultyID)
	switch {
	case err == nil && st.Fresh(now, a.ttl):
		metrics.DashboardReads.WithLabelValues("store").Inc()
		a.cache.Add(facultyID, st)
		return st, nil
	case err != nil && !errors.Is(err, workflow.ErrNotFound):
		return workflow.FacultyStats{}, fmt.Errorf("load faculty stats: %w", err)
	}

	fresh, err := a.recompute(ctx, facultyID, st.Version)
	if err != nil {
		return workflow.FacultyStats{}, err
	}
	metrics.DashboardReads.WithLabelValues("recompute").Inc()
	return fresh, nil
}

// recompute counts from the source of truth and saves the snapshot only if no
// mutation touched it since prevVersion was read. After repeated conflicts the
// counts are returned without being persisted or cached.
func (a *Aggregator) recompute(ctx context.Context, facultyID string, prevVersion int64) (workflow.FacultyStats, error) {
	for attempt := 1; ; attempt++ {
		n, counts, err := a.src.FacultyCounts(ctx, facultyID)
		if err != nil {
			return workflow.FacultyStats{}, fmt.Errorf("count faculty students: %w", err)
		}
		st := workflow.FacultyStats{
			FacultyID:   facultyID,
			Counters:    workflow.FacultyCounters(n, counts),
			LastUpdated: a.now(),
			Version:     prevVersion + 1,
		}
		saved, err := a.src.SaveFacultyStats(ctx, st, prevVersion)
		if err != nil {
			return workflow.FacultyStats{}, fmt.Errorf("save faculty stats: %w", err)
		}
		if saved {
			a.cache.Add(facultyID, st)
			logging.Debug().Str("faculty_id", facultyID).Int("students", n).Msg("faculty stats recomputed")
			return st, nil
		}

		a.cache.Remove(facultyID)
		if attempt == recomputeAttempts {
			logging.Warn().Str("faculty_id", facultyID).Msg("faculty stats kept changing, serving unsaved counts")
			st.Dirty = true
			return st, nil
		}
		cur, err := a.src.GetFacultyStats(ctx, facultyID)
		switch {
		case err == nil:
			prevVersion = cur.Version
		case errors.Is(err, workflow.ErrNotFound):
			prevVersion = 0
		default:
			return workflow.FacultyStats{}, fmt.Errorf("load faculty stats: %w", err)
		}
	}
}

// Adjust applies in-place counter changes to the persisted snapshot.
func (a *Aggregator) Adjust(ctx context.Context, facultyID string, delta workflow.StatsDelta) error {
	err := a.src.AdjustFacultyStats(ctx, facultyID, delta)
	a.cache.Remove(facultyID)
	return err
}

// Invalidate forces recomputation on the next read.
func (a *Aggregator) Invalidate(ctx context.Context, facultyID string) error {
	err := a.src.MarkFacultyStatsDirty(ctx, facultyID)
	a.cache.Remove(facultyID)
	return err
}

// StudentStats returns per-type achievement counts, leave counts and attendance.
func (a *Aggregator) StudentStats(ctx context.Context, studentID string) (StudentStats, error) {
	counts, err := a.src.StudentCounts(ctx, studentID)
	if err != nil {
		return StudentStats{}, err
	}
	att, err := a.att.Summary(ctx, studentID)
	if err != nil {
		return StudentStats{}, fmt.Errorf("attendance summary: %w", err)
	}
	return StudentStats{StudentID: studentID, Counts: counts, Attendance: att}, nil
}

// DepartmentPerformance scores one college's department from attendance and verified achievements.
func (a *Aggregator) DepartmentPerformance(ctx context.Context, collegeID, department string) (DepartmentReport, error) {
	sum, err := a.src.DepartmentSummary(ctx, collegeID, department)
	if err != nil {
		return DepartmentReport{}, err
	}
	att, err := a.att.Summary(ctx, sum.StudentIDs...)
	if err != nil {
		return DepartmentReport{}, fmt.Errorf("attendance summary: %w", err)
	}
	return DepartmentReport{
		DepartmentSummary: sum,
		Students:          len(sum.StudentIDs),
		AttendancePercent: att.Percent,
		Score:             Score(att.Percent, len(sum.StudentIDs), sum.VerifiedCertificates, sum.VerifiedProjects, sum.VerifiedInternships),
	}, nil
}

// Score weighs attendance at 40% and per-student certificates, projects and internships
// (each scaled by 20) at 30%, 20% and 10%.
func Score(attendancePercent, students, certificates, projects, internships int) int {
	n := float64(students)
	if n < 1 {
		n = 1
	}
	v := float64(attendancePercent)*0.4 +
		float64(certificates)/n*20*0.3 +
		float64(projects)/n*20*0.2 +
		float64(internships)/n*20*0.1
	return int(math.Round(v))
}
