package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"campusflow/internal/logging"
	"campusflow/internal/metrics"
	"campusflow/internal/roles"
)

// SubmitLeave stores a pending leave request and bumps the mentor's pending counter.
func (s *Service) SubmitLeave(ctx context.Context, studentID string, sub LeaveSubmission) (LeaveRequest, error) {
	now := s.now()
	start, end, err := validateLeave(sub, now)
	if err != nil {
		return LeaveRequest{}, err
	}
	student, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return LeaveRequest{}, err
	}

	priority := sub.Priority
	if priority == "" {
		priority = "normal"
	}
	lr := LeaveRequest{
		ID:        uuid.NewString(),
		StudentID: studentID,
		StartDate: start,
		EndDate:   end,
		TotalDays: TotalDays(start, end),
		Reason:    sub.Reason,
		Priority:  priority,
		Status:    StatusPending,
		CreatedAt: now,
	}
	if err := s.store.InsertLeave(ctx, lr); err != nil {
		return LeaveRequest{}, fmt.Errorf("insert leave request: %w", err)
	}

	metrics.Submissions.WithLabelValues(string(LedgerLeave), priority).Inc()
	s.adjust(ctx, student.MentorID, StatsDelta{PendingLeaveRequests: 1})
	logging.Info().Str("student_id", studentID).Str("leave_id", lr.ID).Int("days", lr.TotalDays).Msg("leave requested")
	return lr, nil
}

// DecideLeaveRequest approves or rejects a pending leave request of a mentored student.
func (s *Service) DecideLeaveRequest(ctx context.Context, facultyID, studentID, leaveID string, decision ApprovalStatus, remarks string) (LeaveRequest, error) {
	if !decision.Terminal() {
		return LeaveRequest{}, newValidationError(FieldError{Field: "decision", Error: "must be approved or rejected"})
	}
	if err := s.authorize(ctx, facultyID, studentID); err != nil {
		return LeaveRequest{}, err
	}
	lr, err := s.store.GetLeave(ctx, studentID, leaveID)
	if err != nil {
		return LeaveRequest{}, err
	}
	if lr.Status != StatusPending {
		metrics.DecisionConflicts.Inc()
		return LeaveRequest{}, fmt.Errorf("%w: leave request already %s", ErrConflict, lr.Status)
	}

	now := s.now()
	if err := s.store.SetLeaveDecision(ctx, studentID, leaveID, decision, facultyID, now, remarks); err != nil {
		if errors.Is(err, ErrConflict) {
			metrics.DecisionConflicts.Inc()
		}
		return LeaveRequest{}, err
	}
	lr.Status = decision
	lr.ReviewedBy = facultyID
	lr.ReviewedOn = &now
	lr.Remarks = remarks

	if err := s.store.AppendLedger(ctx, LedgerEntry{
		ID:          uuid.NewString(),
		FacultyID:   facultyID,
		StudentID:   studentID,
		Kind:        LedgerLeave,
		Type:        "leave",
		Description: lr.Reason,
		Status:      decision,
		ReviewedOn:  &now,
		Remarks:     remarks,
	}); err != nil {
		return LeaveRequest{}, fmt.Errorf("append ledger: %w", err)
	}

	delta := StatsDelta{PendingLeaveRequests: -1}
	if decision == StatusApproved {
		delta[ApprovedLeaveRequests] = 1
	} else {
		delta[RejectedLeaveRequests] = 1
	}
	s.adjust(ctx, facultyID, delta)

	metrics.Decisions.WithLabelValues(string(LedgerLeave), string(decision)).Inc()
	logging.Info().
		Str("faculty_id", facultyID).
		Str("student_id", studentID).
		Str("leave_id", leaveID).
		Str("status", string(decision)).
		Msg("leave decided")

	if s.publisher != nil {
		s.publisher.EmitToUser(studentID, roles.Student, EventLeaveDecided, lr)
		s.publisher.EmitToUser(facultyID, roles.Faculty, EventStatsUpdated, map[string]any{"student_id": studentID, "decisions": 1})
		s.publisher.Notify(studentID, "Leave request "+string(decision),
			fmt.Sprintf("Your leave from %s to %s was %s", lr.StartDate.Format("2006-01-02"), lr.EndDate.Format("2006-01-02"), decision),
			map[string]string{"type": "leave", "leave_id": leaveID})
	}
	return lr, nil
}
