package serverpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NormalizesAddresses(t *testing.T) {
	pool, err := New([]string{"localhost:8848/", "https://nacos.example.com", "  10.0.0.1:8848  "}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"http://localhost:8848",
		"https://nacos.example.com",
		"http://10.0.0.1:8848",
	}, pool.Addresses())
}

func TestNew_EmptyListFails(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	_, err = New([]string{"", "   "}, nil)
	assert.Error(t, err)
}

func TestSelect_RoundRobin(t *testing.T) {
	pool, err := New([]string{"a:1", "b:1", "c:1"}, nil)
	require.NoError(t, err)

	seen := map[string]int{}
	for i := 0; i < 9; i++ {
		seen[pool.Select()]++
	}

	assert.Equal(t, 3, seen["http://a:1"])
	assert.Equal(t, 3, seen["http://b:1"])
	assert.Equal(t, 3, seen["http://c:1"])
}

func TestSelect_SkipsUnhealthyAfterThreeFailures(t *testing.T) {
	pool, err := New([]string{"a:1", "b:1"}, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		pool.MarkFailed("http://a:1")
	}

	for i := 0; i < 10; i++ {
		assert.Equal(t, "http://b:1", pool.Select())
	}
}

func TestSelect_TwoFailuresStillHealthy(t *testing.T) {
	pool, err := New([]string{"a:1", "b:1"}, nil)
	require.NoError(t, err)

	pool.MarkFailed("http://a:1")
	pool.MarkFailed("http://a:1")

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		seen[pool.Select()] = true
	}
	assert.True(t, seen["http://a:1"])
	assert.True(t, seen["http://b:1"])
}

func TestMarkHealthy_ResetsFailures(t *testing.T) {
	pool, err := New([]string{"a:1", "b:1"}, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		pool.MarkFailed("http://a:1")
	}
	pool.MarkHealthy("http://a:1")

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		seen[pool.Select()] = true
	}
	assert.True(t, seen["http://a:1"])
}

func TestSelect_AllUnhealthyFallsBackToFirst(t *testing.T) {
	pool, err := New([]string{"a:1", "b:1"}, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		pool.MarkFailed("http://a:1")
		pool.MarkFailed("http://b:1")
	}

	// Last failure is recent, so nothing recovers; first address is the
	// last resort.
	assert.Equal(t, "http://a:1", pool.Select())
}

func TestSelect_RecoversAfterWindow(t *testing.T) {
	pool, err := New([]string{"a:1"}, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		pool.MarkFailed("http://a:1")
	}
	// Backdate the failure past the recovery window.
	pool.health["http://a:1"].lastFailureNano.Store(time.Now().Add(-11 * time.Second).UnixNano())

	assert.Equal(t, "http://a:1", pool.Select())
	assert.True(t, pool.health["http://a:1"].healthy())
}

func TestMarkFailed_UnknownAddressIgnored(t *testing.T) {
	pool, err := New([]string{"a:1"}, nil)
	require.NoError(t, err)

	pool.MarkFailed("http://nope:1")
	pool.MarkHealthy("http://nope:1")
	assert.Equal(t, "http://a:1", pool.Select())
}
