package notify

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

// Device is a push-capable client registered by a user.
type Device struct {
	UserID   string    `json:"user_id" validate:"required"`
	DeviceID string    `json:"device_id" validate:"required,max=200"`
	Token    string    `json:"token" validate:"required,max=4096"`
	Platform string    `json:"platform" validate:"omitempty,oneof=android ios web"`
	LastUsed time.Time `json:"last_used"`
}

// DeviceStore persists device tokens, unique per (user, device).
type DeviceStore interface {
	Upsert(ctx context.Context, d Device) error
	List(ctx context.Context, userID string) ([]Device, error)
	Remove(ctx context.Context, userID, deviceID string) (bool, error)
	RemoveAll(ctx context.Context, userID string) (int, error)
	RemoveTokens(ctx context.Context, userID string, tokens []string) (int, error)
}

// DeviceRepository persists devices in Postgres.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository creates a repo.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Upsert inserts or refreshes a device.
func (r *DeviceRepository) Upsert(ctx context.Context, d Device) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (user_id, device_id, token, platform, last_used)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			token = EXCLUDED.token,
			platform = EXCLUDED.platform,
			last_used = EXCLUDED.last_used
	`, d.UserID, d.DeviceID, d.Token, d.Platform, d.LastUsed)
	return err
}

// List returns a user's devices.
func (r *DeviceRepository) List(ctx context.Context, userID string) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, device_id, token, platform, last_used
		FROM devices WHERE user_id = $1 ORDER BY device_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.UserID, &d.DeviceID, &d.Token, &d.Platform, &d.LastUsed); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// Remove deletes one device.
func (r *DeviceRepository) Remove(ctx context.Context, userID, deviceID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE user_id = $1 AND device_id = $2`, userID, deviceID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveAll deletes every device of a user.
func (r *DeviceRepository) RemoveAll(ctx context.Context, userID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RemoveTokens deletes a user's devices holding any of tokens.
func (r *DeviceRepository) RemoveTokens(ctx context.Context, userID string, tokens []string) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE user_id = $1 AND token = ANY($2)`, userID, tokens)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// MemoryDevices keeps devices in process.
type MemoryDevices struct {
	mu      sync.RWMutex
	devices map[string]map[string]Device
}

// NewMemoryDevices returns an empty store.
func NewMemoryDevices() *MemoryDevices {
	return &MemoryDevices{devices: make(map[string]map[string]Device)}
}

// Upsert implements DeviceStore.
func (m *MemoryDevices) Upsert(_ context.Context, d Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.devices[d.UserID]
	if byID == nil {
		byID = make(map[string]Device)
		m.devices[d.UserID] = byID
	}
	byID[d.DeviceID] = d
	return nil
}

// List implements DeviceStore.
func (m *MemoryDevices) List(_ context.Context, userID string) ([]Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]Device, 0, len(m.devices[userID]))
	for _, d := range m.devices[userID] {
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].DeviceID < res[j].DeviceID })
	return res, nil
}

// Remove implements DeviceStore.
func (m *MemoryDevices) Remove(_ context.Context, userID, deviceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[userID][deviceID]; !ok {
		return false, nil
	}
	delete(m.devices[userID], deviceID)
	return true, nil
}

// RemoveAll implements DeviceStore.
func (m *MemoryDevices) RemoveAll(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.devices[userID])
	delete(m.devices, userID)
	return n, nil
}

// RemoveTokens implements DeviceStore.
func (m *MemoryDevices) RemoveTokens(_ context.Context, userID string, tokens []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		drop[t] = struct{}{}
	}
	n := 0
	for id, d := range m.devices[userID] {
		if _, ok := drop[d.Token]; ok {
			delete(m.devices[userID], id)
			n++
		}
	}
	return n, nil
}
