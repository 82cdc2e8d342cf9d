package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoNamesContext(t *testing.T) {
	names := make(chan string, 1)

	Go(nil, "worker-42", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "worker-42", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
	assert.Equal(t, "", GetName(context.Background()))
}

func TestGroupWait(t *testing.T) {
	var g Group
	release := make(chan struct{})

	g.Go(context.Background(), "blocked", func(ctx context.Context) {
		<-release
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded, "Wait MUST honour the context while goroutines run")

	close(release)
	require.NoError(t, g.Wait(context.Background()), "Wait MUST return once every goroutine is done")
}
