package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"langd/internal/domain"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, expected := range want {
		require.Equal(t, expected, b.Next(), "delay %d", i)
	}
}

func TestBackoffNeverDecreases(t *testing.T) {
	b := NewBackoff(domain.RestartBackoffBase, domain.RestartBackoffCap)

	prev := time.Duration(0)
	for i := 0; i < 20; i++ {
		delay := b.Next()
		require.GreaterOrEqual(t, delay, prev)
		require.LessOrEqual(t, delay, domain.RestartBackoffCap)
		prev = delay
	}
}
