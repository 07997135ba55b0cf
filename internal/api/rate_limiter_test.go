package api

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientID(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.7:53122"
	assert.Equal(t, "198.51.100.7", clientID(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientID(req))

	req.Header.Set("X-Forwarded-For", "")
	req.RemoteAddr = "unix"
	assert.Equal(t, "unix", clientID(req))
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(5, 5)
	rl.now = func() time.Time { return now }

	for i := 0; i < limiterSweepSize; i++ {
		rl.getLimiter(fmt.Sprintf("client-%d", i))
	}
	assert.Equal(t, limiterSweepSize, rl.Len())

	// one client stays active
	now = now.Add(limiterIdleTTL)
	rl.getLimiter("client-0")

	now = now.Add(time.Minute)
	rl.getLimiter("newcomer")
	assert.Equal(t, 2, rl.Len())
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	l := rl.getLimiter("a")
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow())
	}
}
