package config

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeatureFlags_Defaults(t *testing.T) {
	ff := NewFeatureFlags()

	assert.True(t, ff.IsEnabled(FeatureAutoEvaluate, "u-1"))
	assert.True(t, ff.IsEnabled(FeatureLevelUpAudit, ""))
	assert.False(t, ff.IsEnabled(FeatureEventForwarding, "u-1"))
	assert.False(t, ff.IsEnabled("unknown.feature", "u-1"))
	assert.Equal(t, []string{FeatureEventForwarding, FeatureAutoEvaluate, FeatureLevelUpAudit}, ff.Names())
}

func TestFeatureFlags_Environment(t *testing.T) {
	t.Setenv("FEATURE_EVENTS_FORWARDING", "true")
	t.Setenv("FEATURE_GAMIFICATION_AUTO_EVALUATE", "false")

	ff := LoadFeatureFlags()
	assert.True(t, ff.IsEnabled(FeatureEventForwarding, ""))
	assert.False(t, ff.IsEnabled(FeatureAutoEvaluate, "u-1"))
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff := NewFeatureFlags()
	ff.SetRollout(FeatureAutoEvaluate, 30)

	in := 0
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("user-%d", i)
		first := ff.IsEnabled(FeatureAutoEvaluate, id)
		assert.Equal(t, first, ff.IsEnabled(FeatureAutoEvaluate, id))
		if first {
			in++
		}
	}
	assert.InDelta(t, 300, in, 80)
}

func TestFeatureFlags_UserOverride(t *testing.T) {
	ff := NewFeatureFlags()
	gate := ff.Gate(FeatureAutoEvaluate)

	ff.SetUserOverride("u-1", FeatureAutoEvaluate, false)
	assert.False(t, gate("u-1"))
	assert.True(t, gate("u-2"))

	ff.ClearUserOverrides("u-1")
	assert.True(t, gate("u-1"))
}

func TestFeatureNameToEnvKey(t *testing.T) {
	assert.Equal(t, "FEATURE_GAMIFICATION_AUTO_EVALUATE", featureNameToEnvKey(FeatureAutoEvaluate))
}
