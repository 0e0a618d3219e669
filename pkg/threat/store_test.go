package threat_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardmesh/sentinel/pkg/threat"
	"github.com/guardmesh/sentinel/pkg/types"
)

func pattern(id string, severity types.Severity) types.ThreatPattern {
	return types.ThreatPattern{
		ID:       id,
		Name:     "threat " + id,
		Category: types.CategoryJailbreak,
		Severity: severity,
	}
}

func TestStore_Add(t *testing.T) {
	t.Run("stores and reads back", func(t *testing.T) {
		store := threat.NewStore()
		assert.True(t, store.Add(pattern("t1", types.SeverityHigh)))

		got, ok := store.Get("t1")
		require.True(t, ok)
		assert.Equal(t, "threat t1", got.Name)
		assert.True(t, store.Seen("t1"))
		assert.Equal(t, 1, store.Len())
	})

	t.Run("re-adding an ID is a no-op", func(t *testing.T) {
		store := threat.NewStore()
		require.True(t, store.Add(pattern("t1", types.SeverityHigh)))

		replacement := pattern("t1", types.SeverityLow)
		replacement.Name = "mutated"
		assert.False(t, store.Add(replacement))

		got, _ := store.Get("t1")
		assert.Equal(t, "threat t1", got.Name)
		assert.Equal(t, types.SeverityHigh, got.Severity)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("all preserves insertion order", func(t *testing.T) {
		store := threat.NewStore()
		for i := 0; i < 5; i++ {
			store.Add(pattern(fmt.Sprintf("t%d", i), types.SeverityMedium))
		}
		all := store.All()
		require.Len(t, all, 5)
		for i, p := range all {
			assert.Equal(t, fmt.Sprintf("t%d", i), p.ID)
		}
	})
}

func TestStore_AggregateLevel(t *testing.T) {
	t.Run("empty store is safe", func(t *testing.T) {
		assert.Equal(t, types.RiskSafe, threat.NewStore().AggregateLevel())
	})

	t.Run("tracks worst severity", func(t *testing.T) {
		store := threat.NewStore()
		store.Add(pattern("t1", types.SeverityLow))
		store.Add(pattern("t2", types.SeverityHigh))
		store.Add(pattern("t3", types.SeverityMedium))
		assert.Equal(t, types.RiskHigh, store.AggregateLevel())
	})

	t.Run("five elevated patterns bump one tier", func(t *testing.T) {
		store := threat.NewStore()
		for i := 0; i < 5; i++ {
			store.Add(pattern(fmt.Sprintf("t%d", i), types.SeverityHigh))
		}
		assert.Equal(t, types.RiskCritical, store.AggregateLevel())
	})

	t.Run("bump caps at critical", func(t *testing.T) {
		store := threat.NewStore()
		for i := 0; i < 6; i++ {
			store.Add(pattern(fmt.Sprintf("t%d", i), types.SeverityCritical))
		}
		assert.Equal(t, types.RiskCritical, store.AggregateLevel())
	})

	t.Run("four elevated patterns do not bump", func(t *testing.T) {
		store := threat.NewStore()
		for i := 0; i < 4; i++ {
			store.Add(pattern(fmt.Sprintf("t%d", i), types.SeverityHigh))
		}
		assert.Equal(t, types.RiskHigh, store.AggregateLevel())
	})
}
