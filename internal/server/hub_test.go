package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earthcopilot/mapview/internal/mapprovider"
)

func TestHub_QueuesWithoutClients(t *testing.T) {
	h := NewHub("s1", 2)
	ctx := context.Background()

	for _, op := range []string{"a", "b", "c"} {
		require.NoError(t, h.Send(ctx, mapprovider.Command{Provider: "leaflet", Op: op}))
	}
	// Oldest commands are dropped past the backlog.
	assert.Equal(t, 2, h.Pending())
	assert.Equal(t, 0, h.Clients())
}

func TestHub_ClosedRejectsSend(t *testing.T) {
	h := NewHub("s1", 0)
	h.Close()
	err := h.Send(context.Background(), mapprovider.Command{Op: "x"})
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.Equal(t, 0, h.Pending())
}
