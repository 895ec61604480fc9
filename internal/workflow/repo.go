package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository persists the workflow in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const itemColumns = `id, student_id, type, position, legacy, title, issuer, organization, role, description, url,
	start_date, end_date, verification_status, verified_by, verified_at, remarks, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var (
		it         Item
		status     sql.NullString
		verifiedBy sql.NullString
		verifiedAt sql.NullTime
		remarks    string
	)
	if err := row.Scan(&it.ID, &it.StudentID, &it.Type, &it.Position, &it.Legacy, &it.Title, &it.Issuer,
		&it.Organization, &it.Role, &it.Description, &it.URL, &it.StartDate, &it.EndDate,
		&status, &verifiedBy, &verifiedAt, &remarks, &it.CreatedAt); err != nil {
		return Item{}, err
	}
	if status.Valid {
		it.Verification = &Verification{
			Status:     VerificationStatus(status.String),
			VerifiedBy: verifiedBy.String,
			Date:       verifiedAt.Time,
			Remarks:    remarks,
		}
	}
	return it, nil
}

// GetStudent implements Store.
func (r *Repository) GetStudent(ctx context.Context, studentID string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, college_id, department, COALESCE(mentor_id, ''), name
		FROM students WHERE id = $1
	`, studentID)
	var s Student
	if err := row.Scan(&s.ID, &s.CollegeID, &s.Department, &s.MentorID, &s.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, fmt.Errorf("%w: student %s", ErrNotFound, studentID)
		}
		return Student{}, err
	}
	return s, nil
}

// InsertItem implements Store. The position is allocated in the same statement as the insert.
func (r *Repository) InsertItem(ctx context.Context, item Item) (Item, error) {
	var (
		status     any
		verifiedBy any
		verifiedAt any
		remarks    string
	)
	if v := item.Verification; v != nil {
		status = string(v.Status)
		if v.VerifiedBy != "" {
			verifiedBy = v.VerifiedBy
			verifiedAt = v.Date
		}
		remarks = v.Remarks
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO achievements (id, student_id, type, position, legacy, title, issuer, organization, role,
			description, url, start_date, end_date, verification_status, verified_by, verified_at, remarks, created_at)
		SELECT $1::text, $2::text, $3::text, COALESCE(MAX(position) + 1, 0), $4::boolean, $5::text, $6::text, $7::text, $8::text,
			$9::text, $10::text, $11::date, $12::date, $13::text, $14::text, $15::timestamptz, $16::text, $17::timestamptz
		FROM achievements WHERE student_id = $2 AND type = $3
		RETURNING position
	`, item.ID, item.StudentID, item.Type, item.Legacy, item.Title, item.Issuer, item.Organization, item.Role,
		item.Description, item.URL, item.StartDate, item.EndDate, status, verifiedBy, verifiedAt, remarks, item.CreatedAt)
	if err := row.Scan(&item.Position); err != nil {
		return Item{}, err
	}
	return item, nil
}

// FindItem implements Store.
func (r *Repository) FindItem(ctx context.Context, studentID string, ref Ref) (Item, error) {
	if ref.ID != "" {
		it, err := scanItem(r.db.QueryRowContext(ctx,
			`SELECT `+itemColumns+` FROM achievements WHERE student_id = $1 AND id = $2`, studentID, ref.ID))
		if err == nil {
			return it, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Item{}, err
		}
	}
	if ref.Index == nil {
		return Item{}, fmt.Errorf("%w: achievement", ErrNotFound)
	}
	it, err := scanItem(r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM achievements
		WHERE student_id = $1 AND type = $2 AND position = $3 AND legacy`, studentID, ref.Type, *ref.Index))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, fmt.Errorf("%w: achievement", ErrNotFound)
		}
		return Item{}, err
	}
	return it, nil
}

// ListItems implements Store.
func (r *Repository) ListItems(ctx context.Context, studentID string) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM achievements
		WHERE student_id = $1 ORDER BY type, position`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// SetVerification implements Store with a conditional update.
func (r *Repository) SetVerification(ctx context.Context, studentID, itemID string, v Verification) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE achievements
		SET verification_status = $3, verified_by = $4, verified_at = $5, remarks = $6
		WHERE student_id = $1 AND id = $2
		  AND (verification_status IS NULL OR verification_status = 'pending')
	`, studentID, itemID, string(v.Status), v.VerifiedBy, v.Date, v.Remarks)
	if err != nil {
		return err
	}
	return r.affected(ctx, res, `SELECT 1 FROM achievements WHERE student_id = $1 AND id = $2`, studentID, itemID)
}

// affected turns a zero-row conditional update into ErrConflict or ErrNotFound.
func (r *Repository) affected(ctx context.Context, res sql.Result, probe string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	if err := r.db.QueryRowContext(ctx, probe, args...).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return fmt.Errorf("%w: already decided", ErrConflict)
}

// InsertPendingApproval implements Store.
func (r *Repository) InsertPendingApproval(ctx context.Context, pa PendingApproval) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_approvals (id, student_id, type, description, status, requested_on)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, pa.ID, pa.StudentID, pa.Type, pa.Description, pa.Status, pa.RequestedOn)
	return err
}

// ListPendingApprovals implements Store.
func (r *Repository) ListPendingApprovals(ctx context.Context, studentID string) ([]PendingApproval, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, type, description, status, requested_on, reviewed_on, COALESCE(reviewed_by, ''), message
		FROM pending_approvals WHERE student_id = $1 ORDER BY requested_on
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PendingApproval
	for rows.Next() {
		var pa PendingApproval
		if err := rows.Scan(&pa.ID, &pa.StudentID, &pa.Type, &pa.Description, &pa.Status, &pa.RequestedOn,
			&pa.ReviewedOn, &pa.ReviewedBy, &pa.Message); err != nil {
			return nil, err
		}
		res = append(res, pa)
	}
	return res, rows.Err()
}

// ReviewPendingApproval implements Store. The oldest matching pending record is updated.
func (r *Repository) ReviewPendingApproval(ctx context.Context, studentID string, t Type, description string, status ApprovalStatus, reviewer string, at time.Time, message string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_approvals SET status = $4, reviewed_by = $5, reviewed_on = $6, message = $7
		WHERE id = (
			SELECT id FROM pending_approvals
			WHERE student_id = $1 AND type = $2 AND description = $3 AND status = 'pending'
			ORDER BY requested_on LIMIT 1
		)
	`, studentID, t, description, status, reviewer, at, message)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: pending approval", ErrNotFound)
	}
	return nil
}

// InsertLeave implements Store.
func (r *Repository) InsertLeave(ctx context.Context, lr LeaveRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO leave_requests (id, student_id, start_date, end_date, total_days, reason, priority, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, lr.ID, lr.StudentID, lr.StartDate, lr.EndDate, lr.TotalDays, lr.Reason, lr.Priority, lr.Status, lr.CreatedAt)
	return err
}

// GetLeave implements Store.
func (r *Repository) GetLeave(ctx context.Context, studentID, leaveID string) (LeaveRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, start_date, end_date, total_days, reason, priority, status,
			COALESCE(reviewed_by, ''), reviewed_on, remarks, created_at
		FROM leave_requests WHERE student_id = $1 AND id = $2
	`, studentID, leaveID)
	var lr LeaveRequest
	if err := row.Scan(&lr.ID, &lr.StudentID, &lr.StartDate, &lr.EndDate, &lr.TotalDays, &lr.Reason, &lr.Priority,
		&lr.Status, &lr.ReviewedBy, &lr.ReviewedOn, &lr.Remarks, &lr.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LeaveRequest{}, fmt.Errorf("%w: leave request %s", ErrNotFound, leaveID)
		}
		return LeaveRequest{}, err
	}
	return lr, nil
}

// SetLeaveDecision implements Store with a conditional update.
func (r *Repository) SetLeaveDecision(ctx context.Context, studentID, leaveID string, status ApprovalStatus, reviewer string, at time.Time, remarks string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE leave_requests SET status = $3, reviewed_by = $4, reviewed_on = $5, remarks = $6
		WHERE student_id = $1 AND id = $2 AND status = 'pending'
	`, studentID, leaveID, status, reviewer, at, remarks)
	if err != nil {
		return err
	}
	return r.affected(ctx, res, `SELECT 1 FROM leave_requests WHERE student_id = $1 AND id = $2`, studentID, leaveID)
}

// AppendLedger implements Store.
func (r *Repository) AppendLedger(ctx context.Context, e LedgerEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO approval_ledger (id, faculty_id, student_id, kind, type, description, status,
			approved_on, reviewed_on, recorded_at, decision_date, remarks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, e.FacultyID, e.StudentID, e.Kind, e.Type, e.Description, e.Status,
		e.ApprovedOn, e.ReviewedOn, e.Timestamp, e.Date, e.Remarks)
	return err
}

// ListLedger implements Store.
func (r *Repository) ListLedger(ctx context.Context, facultyID string) ([]LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, faculty_id, student_id, kind, type, description, status,
			approved_on, reviewed_on, recorded_at, decision_date, remarks
		FROM approval_ledger WHERE faculty_id = $1
	`, facultyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.FacultyID, &e.StudentID, &e.Kind, &e.Type, &e.Description, &e.Status,
			&e.ApprovedOn, &e.ReviewedOn, &e.Timestamp, &e.Date, &e.Remarks); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// StudentCounts implements Store.
func (r *Repository) StudentCounts(ctx context.Context, studentID string) (Counts, error) {
	return r.counts(ctx, `student_id = $1`, studentID)
}

// FacultyCounts aggregates the counts of every student mentored by facultyID.
func (r *Repository) FacultyCounts(ctx context.Context, facultyID string) (int, Counts, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students WHERE mentor_id = $1`, facultyID).Scan(&n); err != nil {
		return 0, Counts{}, err
	}
	c, err := r.counts(ctx, `student_id IN (SELECT id FROM students WHERE mentor_id = $1)`, facultyID)
	return n, c, err
}

func (r *Repository) counts(ctx context.Context, where string, arg any) (Counts, error) {
	c := NewCounts()
	rows, err := r.db.QueryContext(ctx, `
		SELECT type, COALESCE(verification_status, 'pending'), COUNT(*)
		FROM achievements WHERE `+where+`
		GROUP BY 1, 2
	`, arg)
	if err != nil {
		return Counts{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t      Type
			status VerificationStatus
			n      int
		)
		if err := rows.Scan(&t, &status, &n); err != nil {
			return Counts{}, err
		}
		for i := 0; i < n; i++ {
			c.AddItem(t, status)
		}
	}
	if err := rows.Err(); err != nil {
		return Counts{}, err
	}

	lrows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM leave_requests WHERE `+where+` GROUP BY 1
	`, arg)
	if err != nil {
		return Counts{}, err
	}
	defer lrows.Close()
	for lrows.Next() {
		var (
			status ApprovalStatus
			n      int
		)
		if err := lrows.Scan(&status, &n); err != nil {
			return Counts{}, err
		}
		for i := 0; i < n; i++ {
			c.AddLeave(status)
		}
	}
	return c, lrows.Err()
}

// DepartmentSummary counts verified certificates, projects and internships across
// one college's department.
func (r *Repository) DepartmentSummary(ctx context.Context, collegeID, department string) (DepartmentSummary, error) {
	sum := DepartmentSummary{CollegeID: collegeID, Department: department}
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM students WHERE college_id = $1 AND department = $2 ORDER BY id`, collegeID, department)
	if err != nil {
		return sum, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return sum, err
		}
		sum.StudentIDs = append(sum.StudentIDs, id)
	}
	if err := rows.Err(); err != nil {
		return sum, err
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE a.type = 'certificate'),
			COUNT(*) FILTER (WHERE a.type = 'project'),
			COUNT(*) FILTER (WHERE a.type = 'internship')
		FROM achievements a JOIN students s ON s.id = a.student_id
		WHERE s.college_id = $1 AND s.department = $2 AND a.verification_status = 'verified'
	`, collegeID, department).Scan(&sum.VerifiedCertificates, &sum.VerifiedProjects, &sum.VerifiedInternships)
	return sum, err
}

func statsColumns() string {
	cols := make([]string, len(Counters))
	for i, c := range Counters {
		cols[i] = string(c)
	}
	return strings.Join(cols, ", ")
}

// GetFacultyStats returns the stored snapshot or ErrNotFound.
func (r *Repository) GetFacultyStats(ctx context.Context, facultyID string) (FacultyStats, error) {
	vals := make([]int, len(Counters))
	s := FacultyStats{FacultyID: facultyID, Counters: make(map[Counter]int, len(Counters))}
	dest := make([]any, 0, len(Counters)+3)
	for i := range vals {
		dest = append(dest, &vals[i])
	}
	dest = append(dest, &s.LastUpdated, &s.Dirty, &s.Version)
	err := r.db.QueryRowContext(ctx, `SELECT `+statsColumns()+`, last_updated, dirty, version
		FROM faculty_stats WHERE faculty_id = $1`, facultyID).Scan(dest...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FacultyStats{}, fmt.Errorf("%w: faculty stats %s", ErrNotFound, facultyID)
		}
		return FacultyStats{}, err
	}
	for i, c := range Counters {
		s.Counters[c] = vals[i]
	}
	return s, nil
}

// SaveFacultyStats writes the snapshot when the stored version still equals prevVersion
// (zero inserts a new row). It clears dirty and bumps the version.
func (r *Repository) SaveFacultyStats(ctx context.Context, s FacultyStats, prevVersion int64) (bool, error) {
	args := []any{s.FacultyID}
	placeholders := make([]string, 0, len(Counters))
	updates := make([]string, 0, len(Counters))
	for _, c := range Counters {
		args = append(args, s.Counters[c])
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		updates = append(updates, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	args = append(args, s.LastUpdated, prevVersion)
	tsArg, prevArg := len(args)-1, len(args)

	var query string
	if prevVersion == 0 {
		query = fmt.Sprintf(`
			INSERT INTO faculty_stats (faculty_id, %s, last_updated, dirty, version)
			VALUES ($1, %s, $%d, FALSE, $%d::BIGINT + 1)
			ON CONFLICT (faculty_id) DO NOTHING
		`, statsColumns(), strings.Join(placeholders, ", "), tsArg, prevArg)
	} else {
		query = fmt.Sprintf(`
			UPDATE faculty_stats SET %s, last_updated = $%d, dirty = FALSE, version = version + 1
			WHERE faculty_id = $1 AND version = $%d
		`, strings.Join(updates, ", "), tsArg, prevArg)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// AdjustFacultyStats applies delta with atomic column increments.
func (r *Repository) AdjustFacultyStats(ctx context.Context, facultyID string, delta StatsDelta) error {
	if len(delta) == 0 {
		return nil
	}
	args := []any{facultyID}
	sets := make([]string, 0, len(delta)+1)
	for _, c := range Counters {
		d, ok := delta[c]
		if !ok {
			continue
		}
		args = append(args, d)
		sets = append(sets, fmt.Sprintf("%s = GREATEST(%s + $%d, 0)", c, c, len(args)))
	}
	if len(sets) != len(delta) {
		return fmt.Errorf("unknown counter in delta %v", delta)
	}
	sets = append(sets, "version = version + 1")
	res, err := r.db.ExecContext(ctx, `UPDATE faculty_stats SET `+strings.Join(sets, ", ")+` WHERE faculty_id = $1`, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	// No snapshot yet: leave a dirty placeholder for the next read.
	return r.MarkFacultyStatsDirty(ctx, facultyID)
}

// MarkFacultyStatsDirty flags the snapshot for recomputation on next read,
// creating a dirty placeholder when none exists.
func (r *Repository) MarkFacultyStatsDirty(ctx context.Context, facultyID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO faculty_stats (faculty_id, dirty, version) VALUES ($1, TRUE, 1)
		ON CONFLICT (faculty_id) DO UPDATE SET dirty = TRUE, version = faculty_stats.version + 1
	`, facultyID)
	return err
}
