// Package notify fans workflow events out to live sockets and push devices.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"campusflow/internal/logging"
	"campusflow/internal/metrics"
	"campusflow/internal/pushclient"
	"campusflow/internal/realtime"
	"campusflow/internal/roles"
)

// ErrInvalidDevice is returned when a device registration is malformed.
var ErrInvalidDevice = errors.New("invalid device")

// Emitter delivers an event to a room and reports how many sockets accepted it.
type Emitter interface {
	Emit(room, event string, payload any) int
}

// Presence answers whether a user or role has a live socket.
type Presence interface {
	IsConnected(userID string) bool
	IsRoleConnected(role string) bool
}

// Pusher sends to push device tokens.
type Pusher interface {
	SendBatch(ctx context.Context, tokens []string, msg pushclient.Message) (pushclient.BatchResult, error)
}

// PushResult summarises one Push call.
type PushResult struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Pruned  int `json:"pruned"`
	Targets int `json:"targets"`
}

// Notifier implements socket and push fan-out. Every method is best-effort.
type Notifier struct {
	emitter  Emitter
	presence Presence
	devices  DeviceStore
	pusher   Pusher
	timeout  time.Duration
	validate *validator.Validate
	wg       sync.WaitGroup
}

// New creates a notifier. pusher may be nil to disable push.
func New(emitter Emitter, presence Presence, devices DeviceStore, pusher Pusher, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		emitter:  emitter,
		presence: presence,
		devices:  devices,
		pusher:   pusher,
		timeout:  timeout,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// EmitToUser sends to the user's private room when the user is connected.
func (n *Notifier) EmitToUser(userID, role, event string, payload any) bool {
	if !n.presence.IsConnected(userID) {
		metrics.Emits.WithLabelValues("user", "offline").Inc()
		logging.Debug().Str("user_id", userID).Str("role", role).Str("event", event).Msg("user offline, skipping emit")
		return false
	}
	ok := n.emitter.Emit(realtime.UserRoom(userID), event, payload) > 0
	metrics.Emits.WithLabelValues("user", result(ok)).Inc()
	return ok
}

// EmitToRole sends to every socket of a concrete role.
func (n *Notifier) EmitToRole(role, event string, payload any) int {
	if role == roles.Both {
		logging.Error().Str("event", event).Msg("emit to role \"both\" is a caller bug, expanding to student and faculty")
		return n.EmitToAudience(roles.NewAudience(roles.Student, roles.Faculty), event, payload)
	}
	if !roles.Valid(role) {
		logging.Error().Str("role", role).Str("event", event).Msg("emit to unknown role rejected")
		metrics.Emits.WithLabelValues("role", "rejected").Inc()
		return 0
	}
	if !n.presence.IsRoleConnected(role) {
		metrics.Emits.WithLabelValues("role", "offline").Inc()
		return 0
	}
	delivered := n.emitter.Emit(realtime.RoleRoom(role), event, payload)
	metrics.Emits.WithLabelValues("role", result(delivered > 0)).Inc()
	return delivered
}

// EmitToAudience sends to each role of the audience.
func (n *Notifier) EmitToAudience(a roles.Audience, event string, payload any) int {
	total := 0
	for _, role := range a.Roles() {
		total += n.EmitToRole(role, event, payload)
	}
	return total
}

// EmitToCollegeAudience sends to each role of the audience within one college.
func (n *Notifier) EmitToCollegeAudience(collegeID string, a roles.Audience, event string, payload any) int {
	total := 0
	for _, role := range a.Roles() {
		if !n.presence.IsRoleConnected(role) {
			metrics.Emits.WithLabelValues("college_role", "offline").Inc()
			continue
		}
		delivered := n.emitter.Emit(realtime.CollegeRoleRoom(collegeID, role), event, payload)
		metrics.Emits.WithLabelValues("college_role", result(delivered > 0)).Inc()
		total += delivered
	}
	return total
}

// EmitToRoom sends to an arbitrary room.
func (n *Notifier) EmitToRoom(room, event string, payload any) int {
	delivered := n.emitter.Emit(room, event, payload)
	metrics.Emits.WithLabelValues("room", result(delivered > 0)).Inc()
	return delivered
}

// Broadcast sends to every connected client.
func (n *Notifier) Broadcast(event string, payload any) int {
	delivered := n.emitter.Emit(realtime.GlobalRoom, event, payload)
	metrics.Emits.WithLabelValues("global", result(delivered > 0)).Inc()
	return delivered
}

func result(ok bool) string {
	if ok {
		return "delivered"
	}
	return "missed"
}

// Push sends msg to every registered device of the user and prunes tokens the provider rejects.
func (n *Notifier) Push(ctx context.Context, userID string, msg pushclient.Message) (PushResult, error) {
	if n.pusher == nil {
		return PushResult{}, nil
	}
	devices, err := n.devices.List(ctx, userID)
	if err != nil {
		return PushResult{}, fmt.Errorf("list devices: %w", err)
	}
	tokens := make([]string, 0, len(devices))
	for _, d := range devices {
		if t := strings.TrimSpace(d.Token); t != "" {
			tokens = append(tokens, t)
		}
	}
	res := PushResult{Targets: len(tokens)}
	if len(tokens) == 0 {
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	batch, err := n.pusher.SendBatch(ctx, tokens, msg)
	res.Sent = batch.Success
	res.Failed = batch.Failure
	metrics.PushSent.WithLabelValues("success").Add(float64(batch.Success))
	metrics.PushSent.WithLabelValues("failure").Add(float64(batch.Failure))

	if invalid := batch.InvalidTokens(); len(invalid) > 0 {
		pruned, perr := n.devices.RemoveTokens(ctx, userID, invalid)
		if perr != nil {
			logging.Warn().Err(perr).Str("user_id", userID).Msg("failed to prune invalid push tokens")
		}
		res.Pruned = pruned
		metrics.PushTokensPruned.Add(float64(pruned))
	}
	return res, err
}

// Notify pushes in the background. Call Wait during shutdown.
func (n *Notifier) Notify(userID, title, body string, data map[string]string) {
	if n.pusher == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		res, err := n.Push(context.Background(), userID, pushclient.Message{Title: title, Body: body, Data: data})
		if errors.Is(err, pushclient.ErrUnavailable) {
			logging.Warn().Err(err).Str("user_id", userID).Msg("push provider unavailable, notification dropped")
			return
		}
		if err != nil {
			logging.Error().Err(err).Str("user_id", userID).Int("sent", res.Sent).Msg("push notification failed")
			return
		}
		logging.Debug().Str("user_id", userID).Int("sent", res.Sent).Int("pruned", res.Pruned).Msg("push notification sent")
	}()
}

// Wait blocks until background pushes finish or ctx ends.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterDevice upserts a device token by device id.
func (n *Notifier) RegisterDevice(ctx context.Context, d Device) error {
	d.Token = strings.TrimSpace(d.Token)
	if err := n.validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDevice, err)
	}
	if d.LastUsed.IsZero() {
		d.LastUsed = time.Now().UTC()
	}
	return n.devices.Upsert(ctx, d)
}

// RemoveDevice forgets one device.
func (n *Notifier) RemoveDevice(ctx context.Context, userID, deviceID string) (bool, error) {
	return n.devices.Remove(ctx, userID, deviceID)
}

// RemoveAllDevices forgets every device of a user, e.g. on logout everywhere.
func (n *Notifier) RemoveAllDevices(ctx context.Context, userID string) (int, error) {
	return n.devices.RemoveAll(ctx, userID)
}
