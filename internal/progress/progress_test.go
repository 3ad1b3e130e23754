package progress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClamp(t *testing.T) {
	require.Equal(t, 0, Clamp(0, -5))
	require.Equal(t, 100, Clamp(0, 150))
	require.Equal(t, 50, Clamp(50, 30)) // regression ignored
	require.Equal(t, 70, Clamp(50, 70))
}

func TestRescale(t *testing.T) {
	require.Equal(t, 20, Rescale(0, 20, 80))
	require.Equal(t, 80, Rescale(100, 20, 80))
	require.Equal(t, 50, Rescale(50, 20, 80))
}
