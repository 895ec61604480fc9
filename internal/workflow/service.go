package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"campusflow/internal/logging"
	"campusflow/internal/metrics"
	"campusflow/internal/roles"
)

// Realtime events emitted after workflow mutations.
const (
	EventDashboardCounts    = "dashboard:counts"
	EventAchievementDecided = "achievement:decided"
	EventLeaveDecided       = "leave:decided"
	EventStatsUpdated       = "stats:updated"
)

// Service coordinates achievement and leave approvals.
type Service struct {
	store     Store
	stats     StatsCache
	publisher Publisher
	now       func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithStats wires the dashboard cache that receives counter adjustments.
func WithStats(c StatsCache) Option { return func(s *Service) { s.stats = c } }

// WithPublisher wires realtime and push fan-out.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates a service backed by a store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit records a new pending achievement together with its pending approval record.
func (s *Service) Submit(ctx context.Context, studentID string, sub Submission) (Item, error) {
	if err := validateSubmission(sub); err != nil {
		return Item{}, err
	}
	student, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return Item{}, err
	}

	now := s.now()
	item, err := s.store.InsertItem(ctx, Item{
		ID:           uuid.NewString(),
		StudentID:    studentID,
		Type:         sub.Type,
		Title:        sub.Title,
		Issuer:       sub.Issuer,
		Organization: sub.Organization,
		Role:         sub.Role,
		Description:  sub.Description,
		URL:          sub.URL,
		StartDate:    sub.StartDate,
		EndDate:      sub.EndDate,
		Verification: &Verification{Status: VerificationPending, Date: now},
		CreatedAt:    now,
	})
	if err != nil {
		return Item{}, fmt.Errorf("insert achievement: %w", err)
	}
	if err := s.store.InsertPendingApproval(ctx, PendingApproval{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		Type:        item.Type,
		Description: item.Label(),
		Status:      StatusPending,
		RequestedOn: now,
	}); err != nil {
		return Item{}, fmt.Errorf("insert pending approval: %w", err)
	}

	metrics.Submissions.WithLabelValues(string(LedgerAchievement), string(item.Type)).Inc()
	s.adjust(ctx, student.MentorID, StatsDelta{PendingApprovals: 1})
	logging.Info().Str("student_id", studentID).Str("type", string(item.Type)).Str("item_id", item.ID).Msg("achievement submitted")
	return item, nil
}

// Decide applies a faculty decision to one pending achievement.
func (s *Service) Decide(ctx context.Context, facultyID, studentID string, ref Ref, decision VerificationStatus, remarks string) (Decision, error) {
	if err := validateDecision(decision); err != nil {
		return Decision{}, err
	}
	if err := s.authorize(ctx, facultyID, studentID); err != nil {
		return Decision{}, err
	}
	d, err := s.decide(ctx, facultyID, studentID, ref, decision, remarks)
	if err != nil {
		return Decision{}, err
	}
	s.publishDecisions(ctx, facultyID, studentID, []Decision{d})
	return d, nil
}

// BulkDecide applies the same decision to each reference independently. References
// that do not resolve or are no longer pending are skipped, not reported as errors.
func (s *Service) BulkDecide(ctx context.Context, facultyID, studentID string, refs []Ref, decision VerificationStatus, remarks string) (BulkResult, error) {
	if err := validateDecision(decision); err != nil {
		return BulkResult{}, err
	}
	if len(refs) == 0 {
		return BulkResult{}, newValidationError(FieldError{Field: "refs", Error: "at least one reference required"})
	}
	if err := s.authorize(ctx, facultyID, studentID); err != nil {
		return BulkResult{}, err
	}

	res := BulkResult{Requested: len(refs)}
	for _, ref := range refs {
		d, err := s.decide(ctx, facultyID, studentID, ref, decision, remarks)
		if err != nil {
			res.Skipped++
			logging.Debug().Err(err).Str("student_id", studentID).Str("ref_id", ref.ID).Msg("bulk decision skipped reference")
			continue
		}
		res.Processed++
		res.Decisions = append(res.Decisions, d)
	}
	if res.Processed > 0 {
		s.publishDecisions(ctx, facultyID, studentID, res.Decisions)
	}
	return res, nil
}

func (s *Service) decide(ctx context.Context, facultyID, studentID string, ref Ref, decision VerificationStatus, remarks string) (Decision, error) {
	item, err := s.store.FindItem(ctx, studentID, ref)
	if err != nil {
		return Decision{}, err
	}
	if item.Status() != VerificationPending {
		metrics.DecisionConflicts.Inc()
		return Decision{}, fmt.Errorf("%w: achievement already %s", ErrConflict, item.Status())
	}

	now := s.now()
	v := Verification{Status: decision, VerifiedBy: facultyID, Date: now, Remarks: remarks}
	if err := s.store.SetVerification(ctx, studentID, item.ID, v); err != nil {
		if errors.Is(err, ErrConflict) {
			metrics.DecisionConflicts.Inc()
		}
		return Decision{}, err
	}
	item.Verification = &v

	status := approvalStatusFor(decision)
	entry := LedgerEntry{
		ID:          uuid.NewString(),
		FacultyID:   facultyID,
		StudentID:   studentID,
		Kind:        LedgerAchievement,
		Type:        string(item.Type),
		Description: item.Label(),
		Status:      status,
		ApprovedOn:  &now,
		Timestamp:   &now,
		Remarks:     remarks,
	}
	if err := s.store.AppendLedger(ctx, entry); err != nil {
		return Decision{}, fmt.Errorf("append ledger: %w", err)
	}

	delta := StatsDelta{PendingApprovals: -1}
	if decision == VerificationVerified {
		delta[ApprovedCounter(item.Type)] = 1
	} else {
		delta[RejectedApprovals] = 1
	}
	s.adjust(ctx, facultyID, delta)

	if err := s.store.ReviewPendingApproval(ctx, studentID, item.Type, item.Label(), status, facultyID, now, remarks); err != nil && !errors.Is(err, ErrNotFound) {
		logging.Warn().Err(err).Str("item_id", item.ID).Msg("pending approval record not updated")
	}

	metrics.Decisions.WithLabelValues(string(LedgerAchievement), string(status)).Inc()
	logging.Info().
		Str("faculty_id", facultyID).
		Str("student_id", studentID).
		Str("item_id", item.ID).
		Str("status", string(decision)).
		Msg("achievement decided")
	return Decision{Item: item, Entry: entry}, nil
}

// Backfill synthesizes missing verification records from terminal pending approval
// records. Items are matched by type and exact title. Running it twice is a no-op.
func (s *Service) Backfill(ctx context.Context, studentID, facultyID string) (int, error) {
	if err := s.authorize(ctx, facultyID, studentID); err != nil {
		return 0, err
	}
	items, err := s.store.ListItems(ctx, studentID)
	if err != nil {
		return 0, err
	}
	approvals, err := s.store.ListPendingApprovals(ctx, studentID)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, pa := range approvals {
		if !pa.Status.Terminal() {
			continue
		}
		for i := range items {
			item := &items[i]
			if item.Type != pa.Type || item.Label() != pa.Description || !lacksVerification(*item) {
				continue
			}
			v := Verification{
				Status:     verificationStatusFor(pa.Status),
				VerifiedBy: pa.ReviewedBy,
				Date:       pa.RequestedOn,
				Remarks:    pa.Message,
			}
			if v.VerifiedBy == "" {
				v.VerifiedBy = facultyID
			}
			if pa.ReviewedOn != nil {
				v.Date = *pa.ReviewedOn
			}
			if err := s.store.SetVerification(ctx, studentID, item.ID, v); err != nil {
				if errors.Is(err, ErrConflict) {
					continue
				}
				return updated, fmt.Errorf("backfill %s: %w", item.ID, err)
			}
			item.Verification = &v
			updated++
		}
	}

	if updated > 0 {
		metrics.BackfilledItems.Add(float64(updated))
		s.invalidate(ctx, facultyID)
	}
	logging.Info().Str("student_id", studentID).Int("updated", updated).Msg("verification backfill finished")
	return updated, nil
}

func lacksVerification(item Item) bool {
	return item.Verification == nil || (item.Verification.Status == VerificationPending && item.Verification.VerifiedBy == "")
}

// RecentApprovals returns the faculty's latest n decisions, newest first.
func (s *Service) RecentApprovals(ctx context.Context, facultyID string, n int) ([]LedgerEntry, error) {
	entries, err := s.store.ListLedger(ctx, facultyID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].SortTime(now).After(entries[j].SortTime(now))
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// Items lists a student's achievements.
func (s *Service) Items(ctx context.Context, studentID string) ([]Item, error) {
	return s.store.ListItems(ctx, studentID)
}

// AuthorizeMentor fails with ErrForbidden unless facultyID mentors studentID.
func (s *Service) AuthorizeMentor(ctx context.Context, facultyID, studentID string) error {
	return s.authorize(ctx, facultyID, studentID)
}

func (s *Service) authorize(ctx context.Context, facultyID, studentID string) error {
	if facultyID == "" || studentID == "" {
		return newValidationError(FieldError{Field: "student_id", Error: "required"})
	}
	student, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if student.MentorID != facultyID {
		return ErrForbidden
	}
	return nil
}

func validateDecision(d VerificationStatus) error {
	if d != VerificationVerified && d != VerificationRejected {
		return newValidationError(FieldError{Field: "decision", Error: "must be verified or rejected"})
	}
	return nil
}

func (s *Service) adjust(ctx context.Context, facultyID string, delta StatsDelta) {
	if s.stats == nil || facultyID == "" {
		return
	}
	if err := s.stats.Adjust(ctx, facultyID, delta); err != nil {
		logging.Warn().Err(err).Str("faculty_id", facultyID).Msg("stats adjust failed, invalidating")
		s.invalidate(ctx, facultyID)
	}
}

func (s *Service) invalidate(ctx context.Context, facultyID string) {
	if s.stats == nil || facultyID == "" {
		return
	}
	if err := s.stats.Invalidate(ctx, facultyID); err != nil {
		logging.Warn().Err(err).Str("faculty_id", facultyID).Msg("stats invalidate failed")
	}
}

// publishDecisions runs after every decision is durable; failures are only logged.
func (s *Service) publishDecisions(ctx context.Context, facultyID, studentID string, ds []Decision) {
	if s.publisher == nil {
		return
	}
	counts, err := s.store.StudentCounts(ctx, studentID)
	if err != nil {
		logging.Warn().Err(err).Str("student_id", studentID).Msg("student counts unavailable for push")
	} else {
		s.publisher.EmitToUser(studentID, roles.Student, EventDashboardCounts, counts)
	}
	for _, d := range ds {
		s.publisher.EmitToUser(studentID, roles.Student, EventAchievementDecided, d.Item)
	}
	s.publisher.EmitToUser(facultyID, roles.Faculty, EventStatsUpdated, map[string]any{"student_id": studentID, "decisions": len(ds)})

	title, body := "Achievement reviewed", fmt.Sprintf("%d achievement(s) reviewed by your mentor", len(ds))
	if len(ds) == 1 {
		title = "Achievement " + string(ds[0].Item.Status())
		body = fmt.Sprintf("%q was %s", ds[0].Item.Title, ds[0].Item.Status())
	}
	s.publisher.Notify(studentID, title, body, map[string]string{"type": "achievement", "student_id": studentID})
}
