package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		input    string
		expected Tier
		wantErr  bool
	}{
		{"INSTANT", TierInstant, false},
		{"essential", TierEssential, false},
		{" Background ", TierBackground, false},
		{"LAZY", TierLazy, false},
		{"dormant", TierDormant, false},
		{"SOON", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tier, err := ParseTier(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, tier)
		})
	}
}

func TestTier_Ordering(t *testing.T) {
	tiers := AllTiers()
	require.Len(t, tiers, 5)
	for i := 1; i < len(tiers); i++ {
		assert.Less(t, tiers[i-1], tiers[i])
	}
	assert.Equal(t, MinTier, tiers[0])
	assert.Equal(t, MaxTier, tiers[len(tiers)-1])
	assert.False(t, Tier(7).Valid())
	assert.Equal(t, "TIER(7)", Tier(7).String())
}

func TestTier_JSON(t *testing.T) {
	data, err := json.Marshal(map[Tier]int{TierLazy: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"LAZY":2}`, string(data))

	var byName Tier
	require.NoError(t, json.Unmarshal([]byte(`"essential"`), &byName))
	assert.Equal(t, TierEssential, byName)

	var byNumber Tier
	require.NoError(t, json.Unmarshal([]byte(`3`), &byNumber))
	assert.Equal(t, TierLazy, byNumber)

	var outOfRange Tier
	assert.Error(t, json.Unmarshal([]byte(`9`), &outOfRange))
}
