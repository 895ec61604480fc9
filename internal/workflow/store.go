package workflow

import (
	"context"
	"time"
)

// Store is the persistence contract of the approval workflow.
//
// Implementations must make SetVerification and SetLeaveDecision conditional on
// the target still being pending, returning ErrConflict otherwise, so that two
// racing decisions produce exactly one transition.
type Store interface {
	GetStudent(ctx context.Context, studentID string) (Student, error)

	InsertItem(ctx context.Context, item Item) (Item, error)
	FindItem(ctx context.Context, studentID string, ref Ref) (Item, error)
	ListItems(ctx context.Context, studentID string) ([]Item, error)
	SetVerification(ctx context.Context, studentID, itemID string, v Verification) error

	InsertPendingApproval(ctx context.Context, pa PendingApproval) error
	ListPendingApprovals(ctx context.Context, studentID string) ([]PendingApproval, error)
	ReviewPendingApproval(ctx context.Context, studentID string, t Type, description string, status ApprovalStatus, reviewer string, at time.Time, message string) error

	InsertLeave(ctx context.Context, lr LeaveRequest) error
	GetLeave(ctx context.Context, studentID, leaveID string) (LeaveRequest, error)
	SetLeaveDecision(ctx context.Context, studentID, leaveID string, status ApprovalStatus, reviewer string, at time.Time, remarks string) error

	AppendLedger(ctx context.Context, e LedgerEntry) error
	ListLedger(ctx context.Context, facultyID string) ([]LedgerEntry, error)

	StudentCounts(ctx context.Context, studentID string) (Counts, error)
}

// StatsCache receives counter adjustments and invalidations after mutations.
type StatsCache interface {
	Adjust(ctx context.Context, facultyID string, delta StatsDelta) error
	Invalidate(ctx context.Context, facultyID string) error
}

// Publisher is the best-effort fan-out used after a decision is committed.
type Publisher interface {
	EmitToUser(userID, role, event string, payload any) bool
	Notify(userID, title, body string, data map[string]string)
}
