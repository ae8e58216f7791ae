package ports

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate_InEphemeralRange(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 5; i++ {
		port, err := Allocate()
		require.NoError(t, err)
		assert.Greater(t, port, 1023)
		assert.LessOrEqual(t, port, 65535)
		seen[port] = true
	}
	// Kernels hand out ports from a large range; five identical picks
	// would mean a fixed default.
	assert.Greater(t, len(seen), 1)
}

func TestAllocate_PortIsReleased(t *testing.T) {
	port, err := Allocate()
	require.NoError(t, err)

	l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	require.NoError(t, err, "allocated port should be bindable right after release")
	require.NoError(t, l.Close())
}
