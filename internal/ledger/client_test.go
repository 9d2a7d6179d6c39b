package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCongestionFromSamples(t *testing.T) {
	_, err := CongestionFromSamples(nil, DefaultCapacityTPS)
	assert.ErrorIs(t, err, ErrNoSamples)

	samples := []PerformanceSample{
		{NumTransactions: 60_000, SamplePeriodSecs: 60},
		{NumTransactions: 180_000, SamplePeriodSecs: 60},
		{NumTransactions: 5, SamplePeriodSecs: 0},
	}
	tps, err := MeanTPS(samples)
	require.NoError(t, err)
	assert.InDelta(t, 2000, tps, 1e-9)

	c, err := CongestionFromSamples(samples, 4000)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, c, 1e-9)

	c, err = CongestionFromSamples(samples, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1.0, c)

	c, err = CongestionFromSamples(samples, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, c, 1e-9)
}
