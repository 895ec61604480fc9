package workflow

import (
	"time"
)

// Type is the kind of achievement a student submits.
type Type string

const (
	Certificate Type = "certificate"
	Workshop    Type = "workshop"
	Club        Type = "club"
	Project     Type = "project"
	Internship  Type = "internship"
	Other       Type = "other"
)

// Types lists every achievement type in display order.
var Types = []Type{Certificate, Workshop, Club, Project, Internship, Other}

// Valid reports whether t is a known achievement type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// VerificationStatus is the embedded decision state of an achievement.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// ApprovalStatus is the status vocabulary of pending approval records, ledger entries and leave requests.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s ApprovalStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func approvalStatusFor(v VerificationStatus) ApprovalStatus {
	switch v {
	case VerificationVerified:
		return StatusApproved
	case VerificationRejected:
		return StatusRejected
	}
	return StatusPending
}

func verificationStatusFor(s ApprovalStatus) VerificationStatus {
	switch s {
	case StatusApproved:
		return VerificationVerified
	case StatusRejected:
		return VerificationRejected
	}
	return VerificationPending
}

// Verification is the decision sub-record embedded in an achievement item.
type Verification struct {
	Status     VerificationStatus `json:"status"`
	VerifiedBy string             `json:"verified_by,omitempty"`
	Date       time.Time          `json:"date"`
	Remarks    string             `json:"remarks,omitempty"`
}

// Item is a single achievement belonging to one student.
type Item struct {
	ID           string        `json:"id"`
	StudentID    string        `json:"student_id"`
	Type         Type          `json:"type"`
	Position     int           `json:"position"`
	Legacy       bool          `json:"legacy,omitempty"`
	Title        string        `json:"title"`
	Issuer       string        `json:"issuer,omitempty"`
	Organization string        `json:"organization,omitempty"`
	Role         string        `json:"role,omitempty"`
	Description  string        `json:"description,omitempty"`
	URL          string        `json:"url,omitempty"`
	StartDate    *time.Time    `json:"start_date,omitempty"`
	EndDate      *time.Time    `json:"end_date,omitempty"`
	Verification *Verification `json:"verification,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Status returns the verification status; an absent verification counts as pending.
func (i Item) Status() VerificationStatus {
	if i.Verification == nil || i.Verification.Status == "" {
		return VerificationPending
	}
	return i.Verification.Status
}

// Label is the text pending approval records use to describe the item.
func (i Item) Label() string {
	return i.Title
}

// Submission is the student-supplied payload for a new achievement.
type Submission struct {
	Type         Type       `json:"type" validate:"required"`
	Title        string     `json:"title" validate:"required,max=200"`
	Issuer       string     `json:"issuer" validate:"max=200"`
	Organization string     `json:"organization" validate:"max=200"`
	Role         string     `json:"role" validate:"max=120"`
	Description  string     `json:"description" validate:"max=4000"`
	URL          string     `json:"url" validate:"omitempty,url"`
	StartDate    *time.Time `json:"start_date"`
	EndDate      *time.Time `json:"end_date"`
}

// PendingApproval is the audit-style shadow record written for every submission.
type PendingApproval struct {
	ID          string         `json:"id"`
	StudentID   string         `json:"student_id"`
	Type        Type           `json:"type"`
	Description string         `json:"description"`
	Status      ApprovalStatus `json:"status"`
	RequestedOn time.Time      `json:"requested_on"`
	ReviewedOn  *time.Time     `json:"reviewed_on,omitempty"`
	ReviewedBy  string         `json:"reviewed_by,omitempty"`
	Message     string         `json:"message,omitempty"`
}

// Ref addresses an achievement either by stable id or, for legacy items, by position within its type.
type Ref struct {
	Type  Type   `json:"type"`
	ID    string `json:"id,omitempty"`
	Index *int   `json:"index,omitempty"`
}

// LeaveRequest is a student's request for absence.
type LeaveRequest struct {
	ID         string         `json:"id"`
	StudentID  string         `json:"student_id"`
	StartDate  time.Time      `json:"start_date"`
	EndDate    time.Time      `json:"end_date"`
	TotalDays  int            `json:"total_days"`
	Reason     string         `json:"reason"`
	Priority   string         `json:"priority"`
	Status     ApprovalStatus `json:"status"`
	ReviewedBy string         `json:"reviewed_by,omitempty"`
	ReviewedOn *time.Time     `json:"reviewed_on,omitempty"`
	Remarks    string         `json:"remarks,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// LeaveSubmission is the student-supplied payload for a leave request.
type LeaveSubmission struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Reason    string    `json:"reason" validate:"required,min=3,max=1000"`
	Priority  string    `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
}

// LedgerKind separates achievement approvals from leave approvals on the faculty ledger.
type LedgerKind string

const (
	LedgerAchievement LedgerKind = "achievement"
	LedgerLeave       LedgerKind = "leave"
)

// LedgerEntry mirrors one faculty decision. Entries are never mutated.
type LedgerEntry struct {
	ID          string         `json:"id"`
	FacultyID   string         `json:"faculty_id"`
	StudentID   string         `json:"student_id"`
	Kind        LedgerKind     `json:"kind"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Status      ApprovalStatus `json:"status"`
	ApprovedOn  *time.Time     `json:"approved_on,omitempty"`
	ReviewedOn  *time.Time     `json:"reviewed_on,omitempty"`
	Timestamp   *time.Time     `json:"timestamp,omitempty"`
	Date        *time.Time     `json:"date,omitempty"`
	Remarks     string         `json:"remarks,omitempty"`
}

// SortTime picks the first available decision time, falling back to now.
func (e LedgerEntry) SortTime(now time.Time) time.Time {
	for _, t := range []*time.Time{e.ApprovedOn, e.ReviewedOn, e.Timestamp, e.Date} {
		if t != nil && !t.IsZero() {
			return *t
		}
	}
	return now
}

// Decision is the outcome of a single applied Decide.
type Decision struct {
	Item  Item        `json:"item"`
	Entry LedgerEntry `json:"ledger_entry"`
}

// BulkResult reports how many references were applied.
type BulkResult struct {
	Requested int        `json:"requested"`
	Processed int        `json:"processed"`
	Skipped   int        `json:"skipped"`
	Decisions []Decision `json:"decisions"`
}

// Student is the slice of a student record the workflow needs.
type Student struct {
	ID         string `json:"id"`
	CollegeID  string `json:"college_id"`
	Department string `json:"department"`
	MentorID   string `json:"mentor_id"`
	Name       string `json:"name"`
}
