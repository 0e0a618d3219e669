package types_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardmesh/sentinel/pkg/types"
)

func TestRiskLevel_Ordering(t *testing.T) {
	ordered := []types.RiskLevel{
		types.RiskSafe, types.RiskLow, types.RiskMedium, types.RiskHigh, types.RiskCritical,
	}
	for i := 1; i < len(ordered); i++ {
		assert.True(t, ordered[i].AtLeast(ordered[i-1]))
		assert.False(t, ordered[i-1].AtLeast(ordered[i]))
	}
	assert.True(t, types.RiskMedium.AtLeast(types.RiskMedium))
}

func TestRiskLevel_JSON(t *testing.T) {
	t.Run("marshals as the tier name", func(t *testing.T) {
		raw, err := json.Marshal(types.RiskHigh)
		require.NoError(t, err)
		assert.Equal(t, `"HIGH_RISK"`, string(raw))
	})

	t.Run("round trips every tier", func(t *testing.T) {
		for _, level := range []types.RiskLevel{
			types.RiskSafe, types.RiskLow, types.RiskMedium, types.RiskHigh, types.RiskCritical,
		} {
			raw, err := json.Marshal(level)
			require.NoError(t, err)
			var back types.RiskLevel
			require.NoError(t, json.Unmarshal(raw, &back))
			assert.Equal(t, level, back)
		}
	})

	t.Run("rejects unknown names", func(t *testing.T) {
		var level types.RiskLevel
		assert.Error(t, json.Unmarshal([]byte(`"EXTREME"`), &level))
	})
}

func TestParseRiskLevel(t *testing.T) {
	level, ok := types.ParseRiskLevel("CRITICAL")
	assert.True(t, ok)
	assert.Equal(t, types.RiskCritical, level)

	_, ok = types.ParseRiskLevel("nope")
	assert.False(t, ok)
}

func TestSeverity_Rank(t *testing.T) {
	assert.Greater(t, types.SeverityCritical.Rank(), types.SeverityHigh.Rank())
	assert.Greater(t, types.SeverityHigh.Rank(), types.SeverityMedium.Rank())
	assert.Greater(t, types.SeverityMedium.Rank(), types.SeverityLow.Rank())
	assert.Equal(t, 0, types.Severity("nonsense").Rank())
}

func TestNextSophistication(t *testing.T) {
	assert.Equal(t, types.SophisticationIntermediate, types.NextSophistication(types.SophisticationBasic))
	assert.Equal(t, types.SophisticationAdvanced, types.NextSophistication(types.SophisticationIntermediate))
	assert.Equal(t, types.SophisticationExpert, types.NextSophistication(types.SophisticationAdvanced))
	assert.Equal(t, types.SophisticationExpert, types.NextSophistication(types.SophisticationExpert))
	assert.Equal(t, types.SophisticationBasic, types.NextSophistication(types.Sophistication("unknown")))
}
