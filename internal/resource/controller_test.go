package resource

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Budget(t *testing.T) {
	c := NewController(Config{BudgetBytes: 100})

	require.NoError(t, c.Reserve(50))
	assert.Equal(t, int64(50), c.Reserved())

	require.NoError(t, c.Reserve(40))
	assert.Equal(t, int64(90), c.Reserved())
	assert.Equal(t, int64(10), c.Available())

	// Over budget; nothing changes.
	assert.ErrorIs(t, c.Reserve(20), ErrBudgetExceeded)
	assert.Equal(t, int64(90), c.Reserved())

	c.Unreserve(50)
	assert.Equal(t, int64(40), c.Reserved())

	require.NoError(t, c.Reserve(20))
	assert.Equal(t, int64(60), c.Reserved())

	assert.True(t, c.Fits(100))
	assert.False(t, c.Fits(101))
}

func TestController_UnlimitedBudget(t *testing.T) {
	c := NewController(Config{})

	require.NoError(t, c.Reserve(1000))
	assert.Equal(t, int64(1000), c.Reserved())
	assert.Equal(t, int64(-1), c.Available())
	assert.True(t, c.Fits(1<<40))

	c.Unreserve(500)
	assert.Equal(t, int64(500), c.Reserved())
}

func TestController_Workers(t *testing.T) {
	c := NewController(Config{BuildWorkers: 2})
	assert.Equal(t, int64(2), c.Workers())

	require.NoError(t, c.AcquireWorker(t.Context()))
	require.NoError(t, c.AcquireWorker(t.Context()))
	assert.False(t, c.TryAcquireWorker())

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireWorker(ctx))

	c.ReleaseWorker()
	assert.True(t, c.TryAcquireWorker())
}

func TestController_IO(t *testing.T) {
	c := NewController(Config{IOBytesPerSec: 1000})

	assert.True(t, c.TryIO(1000))
	assert.False(t, c.TryIO(1))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.Error(t, c.WaitIO(ctx, 5000))

	unlimited := NewController(Config{})
	require.NoError(t, unlimited.WaitIO(t.Context(), 1<<30))
}

func TestController_Nil(t *testing.T) {
	var c *Controller

	require.NoError(t, c.Reserve(10))
	c.Unreserve(10)
	assert.Zero(t, c.Reserved())
	assert.True(t, c.Fits(1))
	require.NoError(t, c.AcquireWorker(t.Context()))
	c.ReleaseWorker()
	require.NoError(t, c.WaitIO(t.Context(), 10))
}

func TestThrottled_PassThrough(t *testing.T) {
	c := NewController(Config{IOBytesPerSec: 1 << 20})

	var buf bytes.Buffer
	w := NewThrottledWriter(t.Context(), &buf, c)
	n, err := w.Write([]byte("octree"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	r := NewThrottledReader(t.Context(), &buf, c)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "octree", string(out))
}
