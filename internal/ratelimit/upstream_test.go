package ratelimit

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_BurstThenThrottle(t *testing.T) {
	l := New(Config{QueriesPerSecond: 1, BurstSize: 3})
	server := net.ParseIP("198.41.0.4")

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(server), "burst capacity should be available up front")
	}
	assert.False(t, l.Allow(server), "fourth immediate query should be throttled")
}

func TestLimiter_TracksPerServerIndependently(t *testing.T) {
	l := New(Config{QueriesPerSecond: 1, BurstSize: 1})

	assert.True(t, l.Allow(net.ParseIP("198.41.0.4")))
	assert.True(t, l.Allow(net.ParseIP("192.5.6.30")), "a different server must have its own bucket")
	assert.Equal(t, 2, l.Tracked())
}
