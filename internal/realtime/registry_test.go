package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	r.Register("sock-1", "u1", "student")
	r.Register("sock-2", "u1", "student")
	r.Register("sock-3", "f1", "faculty")

	assert.True(t, r.IsConnected("u1"))
	assert.True(t, r.IsRoleConnected("faculty"))
	assert.Equal(t, []string{"sock-1", "sock-2"}, r.SocketsForUser("u1"))
	assert.Equal(t, []string{"sock-1", "sock-2"}, r.SocketsForRole("student"))

	st := r.Stats()
	assert.Equal(t, 3, st.Sockets)
	assert.Equal(t, 2, st.Users)
	assert.Equal(t, map[string]int{"student": 2, "faculty": 1}, st.Roles)

	assert.True(t, r.Unregister("sock-1"))
	assert.True(t, r.IsConnected("u1"))
	assert.True(t, r.Unregister("sock-2"))
	assert.False(t, r.IsConnected("u1"))
	assert.False(t, r.IsRoleConnected("student"))
	assert.False(t, r.Unregister("sock-2"))

	st = r.Stats()
	assert.Equal(t, 1, st.Users)
	assert.NotContains(t, st.Roles, "student", "empty role sets are removed")
}

func TestRegistryIgnoresMissingKeys(t *testing.T) {
	r := NewRegistry()
	r.Register("sock-1", "", "student")
	r.Register("", "u1", "student")
	r.Register("sock-2", "u1", "")

	st := r.Stats()
	assert.Zero(t, st.Sockets)
	assert.Zero(t, st.Users)
	assert.Empty(t, st.Roles)
	assert.False(t, r.IsConnected(""))
	assert.False(t, r.IsConnected("u1"))
	assert.False(t, r.IsRoleConnected(""))
}

func TestRegistryReRegisterReplacesIdentity(t *testing.T) {
	r := NewRegistry()
	r.Register("sock-1", "u1", "student")
	r.Register("sock-1", "u2", "faculty")

	assert.False(t, r.IsConnected("u1"))
	assert.False(t, r.IsRoleConnected("student"))
	assert.Equal(t, []string{"sock-1"}, r.SocketsForUser("u2"))
	assert.Equal(t, 1, r.Stats().Sockets)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("sock-%d", i)
			r.Register(id, fmt.Sprintf("u%d", i%5), "student")
			_ = r.IsConnected("u1")
			_ = r.SocketsForRole("student")
			r.Unregister(id)
		}(i)
	}
	wg.Wait()

	st := r.Stats()
	assert.Zero(t, st.Sockets)
	assert.Zero(t, st.Users)
	assert.Empty(t, st.Roles)
}
