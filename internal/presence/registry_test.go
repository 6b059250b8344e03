package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMultipleDevices(t *testing.T) {
	r := NewRegistry()
	r.Register("s1", Session{UserID: "u1", Role: "patient", Name: "Pat", ConnectedAt: time.Now()})
	r.Register("s2", Session{UserID: "u1", Role: "patient", Name: "Pat"})
	r.Register("s3", Session{UserID: "u2"})

	assert.Equal(t, []string{"s1", "s2"}, r.SessionsForUser("u1"))
	assert.Equal(t, 3, r.Count())
	assert.Equal(t, 2, r.Users())
	assert.True(t, r.IsOnline("u1"))

	desc, ok := r.DescriptorFor("s2")
	require.True(t, ok)
	assert.Equal(t, "s2", desc.SessionID)
	assert.Equal(t, "Pat", desc.Name)
}

func TestUnregisterPrunesUser(t *testing.T) {
	r := NewRegistry()
	r.Register("s1", Session{UserID: "u1"})
	r.Register("s2", Session{UserID: "u1"})

	got, ok := r.Unregister("s1")
	require.True(t, ok)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, r.IsOnline("u1"))

	_, ok = r.Unregister("s2")
	require.True(t, ok)
	assert.False(t, r.IsOnline("u1"))
	assert.Empty(t, r.SessionsForUser("u1"))
	assert.Equal(t, 0, r.Users())

	_, ok = r.Unregister("s2")
	assert.False(t, ok)
	_, ok = r.DescriptorFor("s2")
	assert.False(t, ok)
}

func TestRegisterMovesSessionBetweenUsers(t *testing.T) {
	r := NewRegistry()
	r.Register("s1", Session{UserID: "u1"})
	r.Register("s1", Session{UserID: "u2"})

	assert.False(t, r.IsOnline("u1"))
	assert.Equal(t, []string{"s1"}, r.SessionsForUser("u2"))
	assert.Equal(t, 1, r.Count())
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			r.Register(id, Session{UserID: fmt.Sprintf("u%d", i%5)})
			r.Unregister(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 0, r.Users())
}
