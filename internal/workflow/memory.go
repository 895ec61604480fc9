package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded Store used by tests and local runs without Postgres.
type MemoryStore struct {
	mu        sync.RWMutex
	students  map[string]Student
	items     map[string][]Item
	approvals map[string][]PendingApproval
	leaves    map[string][]LeaveRequest
	ledger    map[string][]LedgerEntry
	stats     map[string]FacultyStats
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students:  make(map[string]Student),
		items:     make(map[string][]Item),
		approvals: make(map[string][]PendingApproval),
		leaves:    make(map[string][]LeaveRequest),
		ledger:    make(map[string][]LedgerEntry),
		stats:     make(map[string]FacultyStats),
	}
}

// AddStudent seeds a student record.
func (m *MemoryStore) AddStudent(s Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = s
}

// GetStudent implements Store.
func (m *MemoryStore) GetStudent(_ context.Context, studentID string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[studentID]
	if !ok {
		return Student{}, fmt.Errorf("%w: student %s", ErrNotFound, studentID)
	}
	return s, nil
}

// InsertItem implements Store. The position is the next free slot within the item's type.
func (m *MemoryStore) InsertItem(_ context.Context, item Item) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := 0
	for _, it := range m.items[item.StudentID] {
		if it.Type == item.Type && it.Position >= pos {
			pos = it.Position + 1
		}
	}
	item.Position = pos
	m.items[item.StudentID] = append(m.items[item.StudentID], cloneItem(item))
	return item, nil
}

// FindItem implements Store.
func (m *MemoryStore) FindItem(_ context.Context, studentID string, ref Ref) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.locate(studentID, ref)
	if i < 0 {
		return Item{}, fmt.Errorf("%w: achievement", ErrNotFound)
	}
	return cloneItem(m.items[studentID][i]), nil
}

// locate resolves ref by id, then by position among legacy items of the same type.
func (m *MemoryStore) locate(studentID string, ref Ref) int {
	items := m.items[studentID]
	if ref.ID != "" {
		for i, it := range items {
			if it.ID == ref.ID {
				return i
			}
		}
	}
	if ref.Index == nil {
		return -1
	}
	for i, it := range items {
		if it.Legacy && it.Type == ref.Type && it.Position == *ref.Index {
			return i
		}
	}
	return -1
}

// ListItems implements Store.
func (m *MemoryStore) ListItems(_ context.Context, studentID string) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Item, 0, len(m.items[studentID]))
	for _, it := range m.items[studentID] {
		out = append(out, cloneItem(it))
	}
	return out, nil
}

// SetVerification implements Store.
func (m *MemoryStore) SetVerification(_ context.Context, studentID, itemID string, v Verification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items[studentID]
	for i := range items {
		if items[i].ID != itemID {
			continue
		}
		if items[i].Status() != VerificationPending {
			return fmt.Errorf("%w: achievement already %s", ErrConflict, items[i].Status())
		}
		items[i].Verification = &v
		return nil
	}
	return fmt.Errorf("%w: achievement %s", ErrNotFound, itemID)
}

// InsertPendingApproval implements Store.
func (m *MemoryStore) InsertPendingApproval(_ context.Context, pa PendingApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[pa.StudentID] = append(m.approvals[pa.StudentID], pa)
	return nil
}

// ListPendingApprovals implements Store.
func (m *MemoryStore) ListPendingApprovals(_ context.Context, studentID string) ([]PendingApproval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PendingApproval(nil), m.approvals[studentID]...), nil
}

// ReviewPendingApproval implements Store. The oldest pending record matching type and description is updated.
func (m *MemoryStore) ReviewPendingApproval(_ context.Context, studentID string, t Type, description string, status ApprovalStatus, reviewer string, at time.Time, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.approvals[studentID]
	for i := range list {
		pa := &list[i]
		if pa.Type != t || pa.Description != description || pa.Status != StatusPending {
			continue
		}
		pa.Status = status
		pa.ReviewedBy = reviewer
		pa.ReviewedOn = &at
		pa.Message = message
		return nil
	}
	return fmt.Errorf("%w: pending approval", ErrNotFound)
}

// InsertLeave implements Store.
func (m *MemoryStore) InsertLeave(_ context.Context, lr LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaves[lr.StudentID] = append(m.leaves[lr.StudentID], lr)
	return nil
}

// GetLeave implements Store.
func (m *MemoryStore) GetLeave(_ context.Context, studentID, leaveID string) (LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, lr := range m.leaves[studentID] {
		if lr.ID == leaveID {
			return lr, nil
		}
	}
	return LeaveRequest{}, fmt.Errorf("%w: leave request %s", ErrNotFound, leaveID)
}

// SetLeaveDecision implements Store.
func (m *MemoryStore) SetLeaveDecision(_ context.Context, studentID, leaveID string, status ApprovalStatus, reviewer string, at time.Time, remarks string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.leaves[studentID]
	for i := range list {
		lr := &list[i]
		if lr.ID != leaveID {
			continue
		}
		if lr.Status != StatusPending {
			return fmt.Errorf("%w: leave request already %s", ErrConflict, lr.Status)
		}
		lr.Status = status
		lr.ReviewedBy = reviewer
		lr.ReviewedOn = &at
		lr.Remarks = remarks
		return nil
	}
	return fmt.Errorf("%w: leave request %s", ErrNotFound, leaveID)
}

// AppendLedger implements Store.
func (m *MemoryStore) AppendLedger(_ context.Context, e LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger[e.FacultyID] = append(m.ledger[e.FacultyID], e)
	return nil
}

// ListLedger implements Store.
func (m *MemoryStore) ListLedger(_ context.Context, facultyID string) ([]LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]LedgerEntry(nil), m.ledger[facultyID]...), nil
}

// StudentCounts implements Store.
func (m *MemoryStore) StudentCounts(_ context.Context, studentID string) (Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := NewCounts()
	m.countInto(&c, studentID)
	return c, nil
}

func (m *MemoryStore) countInto(c *Counts, studentID string) {
	for _, it := range m.items[studentID] {
		c.AddItem(it.Type, it.Status())
	}
	for _, lr := range m.leaves[studentID] {
		c.AddLeave(lr.Status)
	}
}

// FacultyCounts aggregates the counts of every student mentored by facultyID.
func (m *MemoryStore) FacultyCounts(_ context.Context, facultyID string) (int, Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := NewCounts()
	n := 0
	for id, s := range m.students {
		if s.MentorID != facultyID {
			continue
		}
		n++
		m.countInto(&c, id)
	}
	return n, c, nil
}

// DepartmentSummary counts verified certificates, projects and internships across
// one college's department.
func (m *MemoryStore) DepartmentSummary(_ context.Context, collegeID, department string) (DepartmentSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := DepartmentSummary{CollegeID: collegeID, Department: department}
	for id, s := range m.students {
		if s.CollegeID != collegeID || s.Department != department {
			continue
		}
		sum.StudentIDs = append(sum.StudentIDs, id)
		for _, it := range m.items[id] {
			if it.Status() != VerificationVerified {
				continue
			}
			switch it.Type {
			case Certificate:
				sum.VerifiedCertificates++
			case Project:
				sum.VerifiedProjects++
			case Internship:
				sum.VerifiedInternships++
			}
		}
	}
	sort.Strings(sum.StudentIDs)
	return sum, nil
}

// GetFacultyStats returns the stored snapshot or ErrNotFound.
func (m *MemoryStore) GetFacultyStats(_ context.Context, facultyID string) (FacultyStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stats[facultyID]
	if !ok {
		return FacultyStats{}, fmt.Errorf("%w: faculty stats %s", ErrNotFound, facultyID)
	}
	return cloneStats(s), nil
}

// SaveFacultyStats replaces the snapshot when its version still equals prevVersion
// (zero for a snapshot that does not exist yet). It clears dirty and bumps the version.
func (m *MemoryStore) SaveFacultyStats(_ context.Context, s FacultyStats, prevVersion int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats[s.FacultyID].Version != prevVersion {
		return false, nil
	}
	s = cloneStats(s)
	s.Dirty = false
	s.Version = prevVersion + 1
	m.stats[s.FacultyID] = s
	return true, nil
}

// AdjustFacultyStats applies delta in place. A missing snapshot becomes a dirty
// placeholder so a recompute already in flight cannot save over the change.
func (m *MemoryStore) AdjustFacultyStats(_ context.Context, facultyID string, delta StatsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range delta {
		if !KnownCounter(c) {
			return fmt.Errorf("unknown counter %q", c)
		}
	}
	s, ok := m.stats[facultyID]
	if !ok {
		m.markDirtyLocked(facultyID)
		return nil
	}
	for c, d := range delta {
		s.Counters[c] = max(s.Counters[c]+d, 0)
	}
	s.Version++
	m.stats[facultyID] = s
	return nil
}

// MarkFacultyStatsDirty flags the snapshot for recomputation on next read.
func (m *MemoryStore) MarkFacultyStatsDirty(_ context.Context, facultyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markDirtyLocked(facultyID)
	return nil
}

func (m *MemoryStore) markDirtyLocked(facultyID string) {
	s, ok := m.stats[facultyID]
	if !ok {
		s = FacultyStats{FacultyID: facultyID, Counters: make(map[Counter]int, len(Counters))}
	}
	s.Dirty = true
	s.Version++
	m.stats[facultyID] = s
}

func cloneItem(it Item) Item {
	if it.Verification != nil {
		v := *it.Verification
		it.Verification = &v
	}
	return it
}

func cloneStats(s FacultyStats) FacultyStats {
	c := make(map[Counter]int, len(s.Counters))
	for k, v := range s.Counters {
		c[k] = v
	}
	s.Counters = c
	return s
}
