package camera

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSimulator_Lifecycle(t *testing.T) {
	sim := NewSimulator(0, zap.NewNop())
	ctx := context.Background()

	assert.Equal(t, StateUninitialized, sim.Status().PipelineState)

	// Capture before init is a state error.
	_, err := sim.Capture(ctx)
	assert.Error(t, err)

	require.NoError(t, sim.Initialize(ctx, "CAM-001", 305, 1200))
	st := sim.Status()
	assert.Equal(t, StatePlaying, st.PipelineState)
	assert.Equal(t, 305, st.Focus)
	assert.Equal(t, 1200, st.Exposure)

	frame, err := sim.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, 640, frame.Bounds().Dx())

	require.NoError(t, sim.ResetPipeline(ctx))
	assert.Equal(t, StateUninitialized, sim.Status().PipelineState)
	_, err = sim.Capture(ctx)
	assert.Error(t, err)
}

func TestSimulator_Restart(t *testing.T) {
	sim := NewSimulator(0, zap.NewNop())
	ctx := context.Background()

	assert.Error(t, sim.RestartPipeline(ctx))

	require.NoError(t, sim.Initialize(ctx, "CAM-001", 305, 1200))
	require.NoError(t, sim.RestartPipeline(ctx))
	assert.Equal(t, StatePlaying, sim.Status().PipelineState)
}

func TestSimulator_DeterministicPerSettings(t *testing.T) {
	sim := NewSimulator(0, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, sim.Initialize(ctx, "CAM-001", 305, 1200))

	a, err := sim.Capture(ctx)
	require.NoError(t, err)
	b, err := sim.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.At(10, 10), b.At(10, 10))

	// Different settings change the frame.
	require.NoError(t, sim.SetProperties(ctx, 400, 2000, true))
	c, err := sim.Capture(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a.At(10, 10), c.At(10, 10))
}

func TestSimulator_SettleDelaySkipped(t *testing.T) {
	sim := NewSimulator(300*time.Millisecond, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, sim.Initialize(ctx, "CAM-001", 305, 1200))

	start := time.Now()
	require.NoError(t, sim.SetProperties(ctx, 400, 2000, true))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	start = time.Now()
	require.NoError(t, sim.SetProperties(ctx, 305, 1200, false))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestController_BusyRejectsInsteadOfQueueing(t *testing.T) {
	sim := NewSimulator(0, zap.NewNop())
	require.NoError(t, sim.Initialize(context.Background(), "CAM-001", 305, 1200))
	ctrl := NewController(sim, zap.NewNop())

	holding := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = ctrl.WithExclusive(func(Driver) error {
			close(holding)
			<-release
			return nil
		})
	}()

	<-holding
	err := ctrl.WithExclusive(func(Driver) error { return nil })
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	wg.Wait()

	assert.NoError(t, ctrl.WithExclusive(func(Driver) error { return nil }))
}

func TestController_Ready(t *testing.T) {
	sim := NewSimulator(0, zap.NewNop())
	ctrl := NewController(sim, zap.NewNop())

	assert.False(t, ctrl.Ready())
	require.NoError(t, sim.Initialize(context.Background(), "CAM-001", 305, 1200))
	assert.True(t, ctrl.Ready())
}
