// Package registration accepts account registrations synchronously and creates
// the accounts from a queue worker.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"campusflow/internal/logging"
	"campusflow/internal/metrics"
	"campusflow/internal/queue"
	"campusflow/internal/roles"
	"campusflow/internal/workflow"
)

// JobType tags registration messages on the shared queue.
const JobType = "registration"

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

// Payload is a registration request as accepted by the API.
type Payload struct {
	Name       string `json:"name" validate:"required,max=120"`
	Email      string `json:"email" validate:"required_without_all=DomainID Username,omitempty,email"`
	DomainID   string `json:"domain_id" validate:"omitempty,max=64"`
	Username   string `json:"username" validate:"omitempty,min=3,max=64"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
	Role       string `json:"role" validate:"required,oneof=student faculty hod admin"`
	CollegeID  string `json:"college_id" validate:"required"`
	Department string `json:"department" validate:"omitempty,max=64"`
}

func (p Payload) normalise() Payload {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.DomainID = strings.TrimSpace(p.DomainID)
	p.Username = strings.TrimSpace(p.Username)
	p.Role = strings.ToLower(strings.TrimSpace(p.Role))
	return p
}

// NaturalKey is the registrant's identity: email, else domain id, else username, lowercased.
func (p Payload) NaturalKey() string {
	for _, k := range []string{p.Email, p.DomainID, p.Username} {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			return k
		}
	}
	return ""
}

// JobID derives the queue job id so duplicate submissions collapse onto one job.
func JobID(p Payload) string {
	return JobType + ":" + p.NaturalKey()
}

// Intake validates payloads and enqueues them.
type Intake struct {
	q        queue.Queue
	attempts int
	backoff  time.Duration
}

// NewIntake creates an intake publishing to q.
func NewIntake(q queue.Queue, attempts int, backoff time.Duration) *Intake {
	return &Intake{q: q, attempts: attempts, backoff: backoff}
}

// Submit validates p and enqueues it. accepted is false when an identical job is already live.
func (in *Intake) Submit(ctx context.Context, p Payload) (jobID string, accepted bool, err error) {
	p = p.normalise()
	if err := workflow.ValidateStruct(p); err != nil {
		return "", false, err
	}
	if len(p.Password) > maxPasswordBytes {
		return "", false, &workflow.ValidationError{Fields: []workflow.FieldError{
			{Field: "password", Error: fmt.Sprintf("must be at most %d bytes", maxPasswordBytes)},
		}}
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", false, fmt.Errorf("encode registration: %w", err)
	}
	jobID = JobID(p)
	accepted, err = in.q.Publish(ctx, queue.Message{
		ID:          jobID,
		Type:        JobType,
		Body:        body,
		MaxAttempts: in.attempts,
		Backoff:     in.backoff,
	})
	if err != nil {
		return "", false, fmt.Errorf("enqueue registration: %w", err)
	}
	if !accepted {
		logging.Info().Str("job_id", jobID).Msg("registration already queued")
	}
	return jobID, accepted, nil
}

// Cost is the bcrypt cost for a role. Longer-lived admin tier accounts get a higher cost.
func Cost(role string) int {
	if role == roles.HOD || role == roles.Admin {
		return 12
	}
	return 10
}

// Processor turns registration jobs into accounts.
type Processor struct {
	accounts AccountStore
	cost     func(role string) int
	now      func() time.Time
}

// NewProcessor creates a processor writing to accounts.
func NewProcessor(accounts AccountStore) *Processor {
	return &Processor{
		accounts: accounts,
		cost:     Cost,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one registration job. A duplicate account completes the job;
// other store errors are returned so the queue retries them.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != JobType {
		return queue.Permanent(fmt.Errorf("unexpected job type %q", msg.Type))
	}
	var pl Payload
	if err := json.Unmarshal(msg.Body, &pl); err != nil {
		return queue.Permanent(fmt.Errorf("decode registration: %w", err))
	}
	key := pl.NaturalKey()
	if key == "" {
		return queue.Permanent(errors.New("registration has no natural key"))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pl.Password), p.cost(pl.Role))
	if err != nil {
		return queue.Permanent(fmt.Errorf("hash password: %w", err))
	}
	acc := Account{
		ID:           uuid.NewString(),
		NaturalKey:   key,
		Email:        pl.Email,
		DomainID:     pl.DomainID,
		Username:     pl.Username,
		Role:         pl.Role,
		Name:         pl.Name,
		CollegeID:    pl.CollegeID,
		Department:   pl.Department,
		PasswordHash: string(hash),
		CreatedAt:    p.now(),
	}
	if err := p.accounts.Create(ctx, acc); err != nil {
		if errors.Is(err, ErrDuplicate) {
			metrics.RegistrationJobs.WithLabelValues("duplicate").Inc()
			logging.Info().Str("job_id", msg.ID).Str("natural_key", key).Msg("account already exists, completing job")
			return nil
		}
		metrics.RegistrationJobs.WithLabelValues("failed").Inc()
		return fmt.Errorf("create account: %w", err)
	}
	metrics.RegistrationJobs.WithLabelValues("created").Inc()
	logging.Info().Str("job_id", msg.ID).Str("account_id", acc.ID).Str("role", acc.Role).Msg("account created")
	return nil
}
