package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	require.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 4*time.Second, p.InitialDelay)
	assert.Equal(t, 60*time.Second, p.MaxDelay)
}

func TestRetryPolicy_NextDelay_MonotonicAndCapped(t *testing.T) {
	p := DefaultRetryPolicy()
	var prev time.Duration
	for attempt := 1; attempt <= 6; attempt++ {
		d := p.NextDelay(attempt)
		assert.GreaterOrEqual(t, d, p.InitialDelay)
		assert.LessOrEqual(t, d, time.Duration(float64(p.MaxDelay)*1.11))
		if attempt > 1 {
			assert.GreaterOrEqual(t, d, prev/2) // jitter tolerance, but generally increasing
		}
		prev = d
	}
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, FaultNone, ClassifyStatus(200))
	assert.Equal(t, FaultClient, ClassifyStatus(404))
	assert.Equal(t, FaultServer, ClassifyStatus(503))
	assert.True(t, ClassifyStatus(503).Retryable())
	assert.False(t, ClassifyStatus(404).Retryable())
}

func TestClassifyModel(t *testing.T) {
	assert.Equal(t, KindCloud, ClassifyModel("claude-sonnet-4"))
	assert.Equal(t, KindLocal, ClassifyModel("llama3.1:70b"))
	assert.Equal(t, KindLocal, ClassifyModel("qwen2.5:32b"))
}
