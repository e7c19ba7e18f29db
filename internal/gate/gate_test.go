package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateStartsClosed(t *testing.T) {
	g := New()
	assert.False(t, g.IsOpen())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded)
}

func TestGateOpenReleasesWaiters(t *testing.T) {
	g := New()
	released := make(chan struct{})
	go func() {
		_ = g.Wait(context.Background())
		close(released)
	}()

	g.Open()
	g.Open()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
	assert.True(t, g.IsOpen())
}

func TestGateResetArmsFreshChannel(t *testing.T) {
	g := New()
	g.Open()
	old := g.C()

	g.Reset()
	require.False(t, g.IsOpen())

	select {
	case <-old:
	default:
		t.Fatal("channel of the previous phase must stay closed")
	}
	select {
	case <-g.C():
		t.Fatal("new phase must not be open yet")
	default:
	}

	g.Reset()
	g.Open()
	require.NoError(t, g.Wait(context.Background()))
}
