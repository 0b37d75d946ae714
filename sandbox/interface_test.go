package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleLifecycle(t *testing.T) {
	h := newHandle("instantgrade-runner:abc123", "/tmp/workdir")
	require.NotEmpty(t, h.ID)
	assert.Equal(t, StateProvisioning, h.State())

	h.setState(StateReady)
	assert.Equal(t, StateReady, h.State())

	h2 := newHandle("instantgrade-runner:abc123", "/tmp/workdir")
	assert.NotEqual(t, h.ID, h2.ID)
}

func TestCappedBuffer(t *testing.T) {
	t.Run("UnderCap", func(t *testing.T) {
		buf := newCappedBuffer(16)
		n, err := buf.Write([]byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, "hello", buf.String())
		assert.False(t, buf.Truncated())
	})

	t.Run("OverCap", func(t *testing.T) {
		buf := newCappedBuffer(8)
		n, err := buf.Write([]byte("hello world"))
		require.NoError(t, err)
		assert.Equal(t, 11, n)
		assert.Equal(t, "hello wo", buf.String())
		assert.True(t, buf.Truncated())
	})

	t.Run("WritesPastCapAreDropped", func(t *testing.T) {
		buf := newCappedBuffer(4)
		_, err := buf.Write([]byte("full"))
		require.NoError(t, err)
		n, err := buf.Write([]byte("more"))
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Equal(t, "full", buf.String())
		assert.True(t, buf.Truncated())
	})

	t.Run("NoCap", func(t *testing.T) {
		buf := newCappedBuffer(0)
		payload := strings.Repeat("x", 1<<16)
		_, err := buf.Write([]byte(payload))
		require.NoError(t, err)
		assert.Equal(t, payload, buf.String())
		assert.False(t, buf.Truncated())
	})
}

func TestTruncateTo(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		max       int64
		expected  string
		truncated bool
	}{
		{"UnderLimit", "short", 16, "short", false},
		{"AtLimit", "exact", 5, "exact", false},
		{"OverLimit", "overflowing", 4, "over", true},
		{"NoLimit", "anything", 0, "anything", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := truncateTo(tt.input, tt.max)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.truncated, truncated)
		})
	}
}

func TestFilePermissionConstants(t *testing.T) {
	assert.Equal(t, 0755, int(DirPermission))
	assert.Equal(t, 0600, int(FilePermission))
	assert.Equal(t, "/workdir", WorkdirMount)
}
