package attendance

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert writes or replaces a day's record.
func (r *Repository) Upsert(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (student_id, day, present, marked_by, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id, day) DO UPDATE SET
			present = EXCLUDED.present,
			marked_by = EXCLUDED.marked_by,
			updated_at = EXCLUDED.updated_at
	`, rec.StudentID, rec.Day, rec.Present, rec.MarkedBy, rec.UpdatedAt)
	return err
}

// Totals counts present and total days across students.
func (r *Repository) Totals(ctx context.Context, studentIDs []string) (int, int, error) {
	var present, total int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE present), COUNT(*)
		FROM attendance_records WHERE student_id = ANY($1)
	`, studentIDs).Scan(&present, &total)
	return present, total, err
}

// List returns records ordered by day.
func (r *Repository) List(ctx context.Context, studentID string, from, to time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id, day, present, marked_by, updated_at
		FROM attendance_records
		WHERE student_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day
	`, studentID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.StudentID, &rec.Day, &rec.Present, &rec.MarkedBy, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// MemoryStore keeps records in process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[time.Time]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[time.Time]Record)}
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	days := m.records[rec.StudentID]
	if days == nil {
		days = make(map[time.Time]Record)
		m.records[rec.StudentID] = days
	}
	days[rec.Day] = rec
	return nil
}

// Totals implements Store.
func (m *MemoryStore) Totals(_ context.Context, studentIDs []string) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var present, total int
	for _, id := range studentIDs {
		for _, rec := range m.records[id] {
			total++
			if rec.Present {
				present++
			}
		}
	}
	return present, total, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, studentID string, from, to time.Time) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []Record
	for day, rec := range m.records[studentID] {
		if day.Before(from) || day.After(to) {
			continue
		}
		res = append(res, rec)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Day.Before(res[j].Day) })
	return res, nil
}
