package workflow

import "time"

// Counter names one cached faculty dashboard metric. Names double as column names.
type Counter string

const (
	TotalStudents         Counter = "total_students"
	PendingApprovals      Counter = "pending_approvals"
	ApprovedCertificates  Counter = "approved_certificates"
	ApprovedWorkshops     Counter = "approved_workshops"
	ApprovedClubs         Counter = "approved_clubs"
	ApprovedProjects      Counter = "approved_projects"
	ApprovedInternships   Counter = "approved_internships"
	ApprovedOthers        Counter = "approved_others"
	RejectedApprovals     Counter = "rejected_approvals"
	PendingLeaveRequests  Counter = "pending_leave_requests"
	ApprovedLeaveRequests Counter = "approved_leave_requests"
	RejectedLeaveRequests Counter = "rejected_leave_requests"
)

// Counters lists every faculty counter in column order.
var Counters = []Counter{
	TotalStudents, PendingApprovals,
	ApprovedCertificates, ApprovedWorkshops, ApprovedClubs, ApprovedProjects, ApprovedInternships, ApprovedOthers,
	RejectedApprovals,
	PendingLeaveRequests, ApprovedLeaveRequests, RejectedLeaveRequests,
}

// KnownCounter reports whether c is a faculty counter.
func KnownCounter(c Counter) bool {
	for _, k := range Counters {
		if k == c {
			return true
		}
	}
	return false
}

// ApprovedCounter maps an achievement type to its approved counter.
func ApprovedCounter(t Type) Counter {
	switch t {
	case Certificate:
		return ApprovedCertificates
	case Workshop:
		return ApprovedWorkshops
	case Club:
		return ApprovedClubs
	case Project:
		return ApprovedProjects
	case Internship:
		return ApprovedInternships
	default:
		return ApprovedOthers
	}
}

// StatsDelta is a set of in-place counter adjustments.
type StatsDelta map[Counter]int

// FacultyStats is the cached dashboard snapshot stored on the faculty record.
type FacultyStats struct {
	FacultyID   string          `json:"faculty_id"`
	Counters    map[Counter]int `json:"counters"`
	LastUpdated time.Time       `json:"last_updated"`
	Dirty       bool            `json:"-"`
	Version     int64           `json:"version"`
}

// Fresh reports whether the snapshot can be served without recomputation.
func (s FacultyStats) Fresh(now time.Time, ttl time.Duration) bool {
	return !s.Dirty && now.Sub(s.LastUpdated) < ttl && s.Counters[TotalStudents] > 0
}

// StatusCounts partitions items of one type by verification status.
type StatusCounts struct {
	Verified int `json:"verified"`
	Pending  int `json:"pending"`
	Rejected int `json:"rejected"`
}

// Total is the number of submitted items.
func (c StatusCounts) Total() int {
	return c.Verified + c.Pending + c.Rejected
}

func (c *StatusCounts) add(s VerificationStatus) {
	switch s {
	case VerificationVerified:
		c.Verified++
	case VerificationRejected:
		c.Rejected++
	default:
		c.Pending++
	}
}

// LeaveCounts partitions a student's leave requests by status.
type LeaveCounts struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

func (c *LeaveCounts) add(s ApprovalStatus) {
	switch s {
	case StatusApproved:
		c.Approved++
	case StatusRejected:
		c.Rejected++
	default:
		c.Pending++
	}
}

// Counts is the per-student breakdown pushed to dashboards.
type Counts struct {
	Achievements map[Type]StatusCounts `json:"achievements"`
	Totals       StatusCounts          `json:"totals"`
	Leave        LeaveCounts           `json:"leave"`
}

// NewCounts returns zeroed counts with every type present.
func NewCounts() Counts {
	c := Counts{Achievements: make(map[Type]StatusCounts, len(Types))}
	for _, t := range Types {
		c.Achievements[t] = StatusCounts{}
	}
	return c
}

// AddItem accounts for one achievement.
func (c *Counts) AddItem(t Type, s VerificationStatus) {
	sc := c.Achievements[t]
	sc.add(s)
	c.Achievements[t] = sc
	c.Totals.add(s)
}

// AddLeave accounts for one leave request.
func (c *Counts) AddLeave(s ApprovalStatus) {
	c.Leave.add(s)
}

// FacultyCounters derives the faculty counter set from the aggregated counts of its students.
func FacultyCounters(students int, c Counts) map[Counter]int {
	out := make(map[Counter]int, len(Counters))
	for _, k := range Counters {
		out[k] = 0
	}
	out[TotalStudents] = students
	out[PendingApprovals] = c.Totals.Pending
	out[RejectedApprovals] = c.Totals.Rejected
	for t, sc := range c.Achievements {
		out[ApprovedCounter(t)] += sc.Verified
	}
	out[PendingLeaveRequests] = c.Leave.Pending
	out[ApprovedLeaveRequests] = c.Leave.Approved
	out[RejectedLeaveRequests] = c.Leave.Rejected
	return out
}

// DepartmentSummary is the raw input of the department performance score.
type DepartmentSummary struct {
	CollegeID            string   `json:"college_id"`
	Department           string   `json:"department"`
	StudentIDs           []string `json:"-"`
	VerifiedCertificates int      `json:"verified_certificates"`
	VerifiedProjects     int      `json:"verified_projects"`
	VerifiedInternships  int      `json:"verified_internships"`
}
