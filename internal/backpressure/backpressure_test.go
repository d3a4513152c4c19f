package backpressure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentflow/types"
)

func TestController_LowUtilizationYieldsBaseline(t *testing.T) {
	c := New(DefaultConfig(100), func() (int, int) { return 10, 100 }, nil)
	c.Sample()
	st := c.State()
	require.Equal(t, types.LoadLow, st.LoadLevel)
	require.Equal(t, 100, st.MaxConcurrent)
}

func TestController_HighUtilizationScalesDown(t *testing.T) {
	var applied int
	c := New(DefaultConfig(100), func() (int, int) { return 80, 100 }, func(n int) { applied = n })
	c.Sample()
	st := c.State()
	require.Equal(t, types.LoadHigh, st.LoadLevel)
	require.Equal(t, 50, st.MaxConcurrent)
	require.Equal(t, 50, applied)
}

func TestController_CriticalUtilizationScalesToQuarter(t *testing.T) {
	c := New(DefaultConfig(100), func() (int, int) { return 95, 100 }, nil)
	c.Sample()
	require.Equal(t, types.LoadCritical, c.State().LoadLevel)
	require.Equal(t, 25, c.State().MaxConcurrent)
}

func TestController_LowSuccessRateForcesCriticalRegardlessOfDepth(t *testing.T) {
	c := New(DefaultConfig(100), func() (int, int) { return 1, 100 }, nil)
	for i := 0; i < 10; i++ {
		c.RecordOutcome(false)
	}
	c.Sample()
	require.Equal(t, types.LoadCritical, c.State().LoadLevel)
}

func TestController_ShouldAcceptRequestRejectsOnlyAtCritical(t *testing.T) {
	c := New(DefaultConfig(100), func() (int, int) { return 95, 100 }, nil)
	c.Sample()
	ok, reason := c.ShouldAcceptRequest()
	require.False(t, ok)
	require.NotEmpty(t, reason)

	c2 := New(DefaultConfig(100), func() (int, int) { return 10, 100 }, nil)
	c2.Sample()
	ok2, reason2 := c2.ShouldAcceptRequest()
	require.True(t, ok2)
	require.Empty(t, reason2)
}

func TestController_SuccessWindowIsBounded(t *testing.T) {
	c := New(Config{BaselineMaxConcurrent: 100, SuccessWindowSize: 5}, func() (int, int) { return 0, 100 }, nil)
	for i := 0; i < 5; i++ {
		c.RecordOutcome(false)
	}
	for i := 0; i < 5; i++ {
		c.RecordOutcome(true)
	}
	require.Equal(t, 1.0, c.successRate())
}

func TestController_StartStopRunsSamplingLoop(t *testing.T) {
	var applied int
	cfg := DefaultConfig(100)
	cfg.SampleInterval = 5 * time.Millisecond
	c := New(cfg, func() (int, int) { return 95, 100 }, func(n int) { applied = n })
	c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Stop()
	require.Equal(t, 25, applied)
}
