package registration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"campusflow/internal/queue"
	"campusflow/internal/workflow"
)

func valid() Payload {
	return Payload{
		Name:      "Asha Rao",
		Email:     "  Asha@College.EDU ",
		Password:  "correct horse",
		Role:      "student",
		CollegeID: "c1",
	}
}

func TestNaturalKeyPrecedence(t *testing.T) {
	assert.Equal(t, "a@x.edu", Payload{Email: "A@x.edu", DomainID: "D1", Username: "u"}.NaturalKey())
	assert.Equal(t, "cs2021-04", Payload{DomainID: "CS2021-04", Username: "u"}.NaturalKey())
	assert.Equal(t, "asha", Payload{Username: " Asha "}.NaturalKey())
	assert.Empty(t, Payload{}.NaturalKey())
	assert.Equal(t, "registration:a@x.edu", JobID(Payload{Email: "a@x.edu"}))
}

func TestCostByRole(t *testing.T) {
	assert.Equal(t, 10, Cost("student"))
	assert.Equal(t, 10, Cost("faculty"))
	assert.Equal(t, 12, Cost("hod"))
	assert.Equal(t, 12, Cost("admin"))
}

func TestSubmitValidates(t *testing.T) {
	in := NewIntake(queue.NewInMemory(4), 5, time.Millisecond)
	ctx := context.Background()

	cases := map[string]func(p *Payload){
		"no identity":    func(p *Payload) { p.Email = "" },
		"bad email":      func(p *Payload) { p.Email = "not-an-email" },
		"short password": func(p *Payload) { p.Password = "short" },
		"unknown role":   func(p *Payload) { p.Role = "janitor" },
		"no college":     func(p *Payload) { p.CollegeID = "" },
		"password bytes": func(p *Payload) { p.Password = strings.Repeat("é", 40) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := valid()
			mutate(&p)
			_, _, err := in.Submit(ctx, p)
			assert.True(t, workflow.IsValidation(err), "got %v", err)
		})
	}

	p := valid()
	p.Email = ""
	p.Username = "asha"
	id, ok, err := in.Submit(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "registration:asha", id)
}

func TestMultibytePasswordWithinBcryptLimitIsCreated(t *testing.T) {
	q := queue.NewInMemory(4)
	in := NewIntake(q, 3, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := valid()
	p.Password = strings.Repeat("é", 40)
	_, accepted, err := in.Submit(ctx, p)
	require.True(t, workflow.IsValidation(err), "got %v", err)
	assert.False(t, accepted)

	p.Password = strings.Repeat("é", 36)
	_, accepted, err = in.Submit(ctx, p)
	require.NoError(t, err)
	require.True(t, accepted)

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	msg := <-msgs
	accounts := NewMemoryAccounts()
	require.NoError(t, testProcessor(accounts).Handle(ctx, msg))
	assert.Equal(t, 1, accounts.Len())
}

func TestSubmitCollapsesDuplicates(t *testing.T) {
	q := queue.NewInMemory(4)
	in := NewIntake(q, 3, time.Second)
	ctx := context.Background()

	id, ok, err := in.Submit(ctx, valid())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "registration:asha@college.edu", id)

	p := valid()
	p.Email = "ASHA@college.edu"
	id2, ok, err := in.Submit(ctx, p)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, id, id2)
}

func testProcessor(accounts AccountStore) *Processor {
	p := NewProcessor(accounts)
	p.cost = func(string) int { return bcrypt.MinCost }
	return p
}

func job(t *testing.T, p Payload) queue.Message {
	t.Helper()
	body, err := json.Marshal(p.normalise())
	require.NoError(t, err)
	return queue.Message{ID: JobID(p.normalise()), Type: JobType, Body: body}
}

func TestHandleCreatesAccount(t *testing.T) {
	accounts := NewMemoryAccounts()
	p := testProcessor(accounts)
	require.NoError(t, p.Handle(context.Background(), job(t, valid())))

	acc, err := accounts.GetByKey(context.Background(), "asha@college.edu")
	require.NoError(t, err)
	assert.Equal(t, "student", acc.Role)
	assert.NotEqual(t, "correct horse", acc.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte("correct horse")))
}

func TestHandleDuplicateIsBenign(t *testing.T) {
	accounts := NewMemoryAccounts()
	p := testProcessor(accounts)
	ctx := context.Background()
	require.NoError(t, p.Handle(ctx, job(t, valid())))
	require.NoError(t, p.Handle(ctx, job(t, valid())), "duplicate completes the job")
	assert.Equal(t, 1, accounts.Len())
}

type failingAccounts struct{ err error }

func (f failingAccounts) Create(context.Context, Account) error { return f.err }

func (f failingAccounts) GetByKey(context.Context, string) (Account, error) {
	return Account{}, ErrNotFound
}

func TestHandleStoreErrorIsRetryable(t *testing.T) {
	boom := errors.New("connection reset")
	p := testProcessor(failingAccounts{err: boom})
	err := p.Handle(context.Background(), job(t, valid()))
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, queue.ErrPermanent)
}

func TestHandleMalformedJobIsPermanent(t *testing.T) {
	p := testProcessor(NewMemoryAccounts())
	err := p.Handle(context.Background(), queue.Message{Type: JobType, Body: []byte("{")})
	assert.ErrorIs(t, err, queue.ErrPermanent)

	err = p.Handle(context.Background(), queue.Message{Type: "other", Body: []byte("{}")})
	assert.ErrorIs(t, err, queue.ErrPermanent)
}

func TestPipelineRetriesThenDeadLetters(t *testing.T) {
	q := queue.NewInMemory(8)
	in := NewIntake(q, 2, time.Millisecond)
	p := testProcessor(failingAccounts{err: errors.New("db down")})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &queue.Worker{Queue: q, Handler: p.Handle, Concurrency: 2}
	go func() { _ = w.Run(ctx) }()

	_, ok, err := in.Submit(ctx, valid())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		dead, _ := q.Dead(ctx)
		return len(dead) == 1 && dead[0].Attempts == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPipelineCreatesOnce(t *testing.T) {
	q := queue.NewInMemory(8)
	in := NewIntake(q, 5, time.Millisecond)
	accounts := NewMemoryAccounts()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &queue.Worker{Queue: q, Handler: testProcessor(accounts).Handle, Concurrency: 4}
	go func() { _ = w.Run(ctx) }()

	for i := 0; i < 5; i++ {
		_, _, err := in.Submit(ctx, valid())
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool { return accounts.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	dead, err := q.Dead(ctx)
	require.NoError(t, err)
	assert.Empty(t, dead)
}
