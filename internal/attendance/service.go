package attendance

import (
	"context"
	"errors"
	"math"
	"time"
)

// Record is one student's attendance for one day.
type Record struct {
	StudentID string    `json:"student_id"`
	Day       time.Time `json:"day"`
	Present   bool      `json:"present"`
	MarkedBy  string    `json:"marked_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary aggregates attendance for one or more students.
type Summary struct {
	Present int `json:"present"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

// Store persists attendance records.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	Totals(ctx context.Context, studentIDs []string) (present, total int, err error)
	List(ctx context.Context, studentID string, from, to time.Time) ([]Record, error)
}

// Percent returns present/total as a whole percentage rounded half-up. A zero total yields 0.
func Percent(present, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Floor(float64(present)*100/float64(total) + 0.5))
}

// Service records attendance and summarises it for dashboards.
type Service struct {
	store Store
}

// NewService creates a service backed by a store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Mark records presence for a student on a day, replacing any earlier mark.
func (s *Service) Mark(ctx context.Context, studentID string, day time.Time, present bool, markedBy string) error {
	if studentID == "" {
		return errors.New("student id required")
	}
	if day.IsZero() {
		return errors.New("day required")
	}
	y, m, d := day.UTC().Date()
	return s.store.Upsert(ctx, Record{
		StudentID: studentID,
		Day:       time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Present:   present,
		MarkedBy:  markedBy,
		UpdatedAt: time.Now().UTC(),
	})
}

// Summary aggregates attendance across the given students.
func (s *Service) Summary(ctx context.Context, studentIDs ...string) (Summary, error) {
	if len(studentIDs) == 0 {
		return Summary{}, nil
	}
	present, total, err := s.store.Totals(ctx, studentIDs)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Present: present, Total: total, Percent: Percent(present, total)}, nil
}

// History lists a student's records in a date range, inclusive.
func (s *Service) History(ctx context.Context, studentID string, from, to time.Time) ([]Record, error) {
	return s.store.List(ctx, studentID, from, to)
}
