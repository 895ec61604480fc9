package registration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"campusflow/internal/store"
)

// ErrDuplicate is returned when an account with the same natural key or email exists.
var ErrDuplicate = errors.New("account already exists")

// ErrNotFound is returned by lookups for unknown keys.
var ErrNotFound = errors.New("account not found")

// Account is the durable user record created by a registration job.
type Account struct {
	ID           string    `json:"id"`
	NaturalKey   string    `json:"natural_key"`
	Email        string    `json:"email,omitempty"`
	DomainID     string    `json:"domain_id,omitempty"`
	Username     string    `json:"username,omitempty"`
	Role         string    `json:"role"`
	Name         string    `json:"name"`
	CollegeID    string    `json:"college_id"`
	Department   string    `json:"department,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountStore persists accounts with unique natural keys.
type AccountStore interface {
	Create(ctx context.Context, a Account) error
	GetByKey(ctx context.Context, naturalKey string) (Account, error)
}

// Repository stores accounts in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates an account repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts the account; unique violations map to ErrDuplicate.
func (r *Repository) Create(ctx context.Context, a Account) error {
	const q = `
INSERT INTO accounts (id, natural_key, email, domain_id, username, role, name, college_id, department, password_hash, created_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11)`
	_, err := r.db.ExecContext(ctx, q, a.ID, a.NaturalKey, a.Email, a.DomainID, a.Username,
		a.Role, a.Name, a.CollegeID, a.Department, a.PasswordHash, a.CreatedAt)
	if store.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetByKey fetches an account by natural key.
func (r *Repository) GetByKey(ctx context.Context, naturalKey string) (Account, error) {
	const q = `
SELECT id, natural_key, COALESCE(email, ''), COALESCE(domain_id, ''), COALESCE(username, ''),
       role, name, college_id, department, password_hash, created_at
FROM accounts WHERE natural_key = $1`
	var a Account
	err := r.db.QueryRowContext(ctx, q, strings.ToLower(naturalKey)).Scan(&a.ID, &a.NaturalKey, &a.Email, &a.DomainID,
		&a.Username, &a.Role, &a.Name, &a.CollegeID, &a.Department, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// MemoryAccounts is an in-process AccountStore for dev and tests.
type MemoryAccounts struct {
	mu      sync.Mutex
	byKey   map[string]Account
	byEmail map[string]string
}

// NewMemoryAccounts creates an empty store.
func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{byKey: make(map[string]Account), byEmail: make(map[string]string)}
}

func (m *MemoryAccounts) Create(_ context.Context, a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[a.NaturalKey]; ok {
		return ErrDuplicate
	}
	if a.Email != "" {
		if _, ok := m.byEmail[a.Email]; ok {
			return ErrDuplicate
		}
		m.byEmail[a.Email] = a.NaturalKey
	}
	m.byKey[a.NaturalKey] = a
	return nil
}

func (m *MemoryAccounts) GetByKey(_ context.Context, naturalKey string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byKey[strings.ToLower(naturalKey)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

// Len reports how many accounts exist.
func (m *MemoryAccounts) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}
