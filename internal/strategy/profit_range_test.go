package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildScheduleLinearExample(t *testing.T) {
	steps, err := BuildSchedule(10, 40, 3, ModeLinear)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	for i, want := range []float64{20, 30, 40} {
		assert.InDelta(t, want, steps[i].ProfitPercent, 1e-9)
		assert.InDelta(t, 100.0/3.0, steps[i].SellPercentage, 1e-9)
		assert.Equal(t, i+1, steps[i].Index)
	}
}

func TestBuildScheduleShapes(t *testing.T) {
	aggressive, err := BuildSchedule(0, 100, 4, ModeAggressive)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, aggressive[0].ProfitPercent, 1e-9) // sqrt(1/4)
	assert.Equal(t, 50.0, aggressive[0].SellPercentage)
	assert.InDelta(t, 50.0/3.0, aggressive[3].SellPercentage, 1e-9)

	conservative, err := BuildSchedule(0, 100, 4, ModeConservative)
	require.NoError(t, err)
	assert.InDelta(t, 6.25, conservative[0].ProfitPercent, 1e-9) // (1/4)^2
	assert.Equal(t, 50.0, conservative[3].SellPercentage)
	assert.InDelta(t, 50.0/3.0, conservative[0].SellPercentage, 1e-9)

	single, err := BuildSchedule(5, 15, 1, ModeConservative)
	require.NoError(t, err)
	assert.Equal(t, 100.0, single[0].SellPercentage)
	assert.Equal(t, 15.0, single[0].ProfitPercent)
}

func TestScheduleProperties(t *testing.T) {
	for _, mode := range []ProfitRangeMode{ModeLinear, ModeAggressive, ModeConservative} {
		for n := 1; n <= 12; n++ {
			steps, err := BuildSchedule(3, 57, n, mode)
			require.NoError(t, err)

			sum := 0.0
			prevTrigger := 0.0
			for _, st := range steps {
				sum += st.SellPercentage
				trigger := TriggerPrice(0.0667, st.ProfitPercent)
				assert.Greater(t, trigger, prevTrigger, "%s n=%d step %d", mode, n, st.Index)
				prevTrigger = trigger
			}
			assert.InDelta(t, 100.0, sum, 1e-9, "%s n=%d", mode, n)
			assert.InDelta(t, 57.0, steps[n-1].ProfitPercent, 1e-9)
		}
	}
}

func TestBuildScheduleRejectsInvalidRanges(t *testing.T) {
	_, err := BuildSchedule(10, 40, 0, ModeLinear)
	assert.Error(t, err)
	_, err = BuildSchedule(40, 10, 3, ModeLinear)
	assert.Error(t, err)
	_, err = BuildSchedule(-1, 10, 3, ModeLinear)
	assert.Error(t, err)
	_, err = BuildSchedule(1, 10, 3, ProfitRangeMode("zigzag"))
	assert.Error(t, err)
}

func TestScheduleDueUsesCurrentAverage(t *testing.T) {
	now := time.Now()
	s, err := NewSchedule(10, 40, 3, ModeLinear, 300, now)
	require.NoError(t, err)
	assert.Equal(t, RangeStateActive, s.State())

	_, ok := s.Due(1.0, 1.19, 300)
	assert.False(t, ok)

	order, ok := s.Due(1.0, 1.2, 300)
	require.True(t, ok)
	assert.Equal(t, 1, order.Step.Index)
	assert.InDelta(t, 1.2, order.TriggerPrice, 1e-12)
	assert.InDelta(t, 100.0, order.Quantity, 1e-9)
	assert.False(t, order.Final)

	require.NoError(t, s.MarkExecuted(1, 1.2, 100, now))
	assert.Error(t, s.MarkExecuted(1, 1.2, 100, now))
	assert.Equal(t, RangeStateStepExecuted, s.State())

	// a lower average moves every trigger down
	order, ok = s.Due(0.9, 1.18, 200)
	require.True(t, ok)
	assert.Equal(t, 2, order.Step.Index)

	require.NoError(t, s.MarkExecuted(2, 1.18, 100, now))
	order, ok = s.Due(1.0, 1.5, 99.5)
	require.True(t, ok)
	assert.True(t, order.Final)
	assert.Equal(t, 99.5, order.Quantity)

	require.NoError(t, s.MarkExecuted(3, 1.5, 99.5, now))
	assert.Equal(t, RangeStateCompleted, s.State())
	_, ok = s.Due(1.0, 5, 1)
	assert.False(t, ok)

	var nilSchedule *Schedule
	assert.Equal(t, RangeStateHolding, nilSchedule.State())
	_, ok = nilSchedule.Due(1, 2, 3)
	assert.False(t, ok)
}

func TestEvaluateFastExit(t *testing.T) {
	sell := ComputeThresholds(ProfileNormal, 15, 40, 1).Sell // 20 / 40 / 80 / 200 / 400

	d := EvaluateFastExit(125, 100, sell)
	assert.True(t, d.Exit)
	assert.Equal(t, SellTierQuick, d.Tier)
	assert.InDelta(t, 25.0, d.PnLPercent, 1e-9)

	// a tier inside the profit range still liquidates everything
	d = EvaluateFastExit(140, 100, sell)
	assert.True(t, d.Exit)
	assert.Equal(t, SellTierNormal, d.Tier)

	d = EvaluateFastExit(185, 100, sell)
	assert.True(t, d.Exit)
	assert.Equal(t, SellTierGood, d.Tier)

	d = EvaluateFastExit(105, 100, sell)
	assert.False(t, d.Exit)
	assert.Equal(t, SellTierNone, d.Tier)

	d = EvaluateFastExit(10, 0, sell)
	assert.False(t, d.Exit)
}
