package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classifieds-catalog/internal/domain"
)

var testRules = Rules{
	{Field: "title", Tag: "notblank,max=10", Message: "title is required and must be at most 10 characters"},
	{Field: "price_present", Tag: "required", Message: "price is required"},
	{Field: "price", Tag: "gte=0", Message: "price must be non-negative"},
	{Field: "status", Tag: "omitempty,oneof=draft active", Message: "status must be one of: draft, active"},
}

func TestRules_Check(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]any
		wantMsg string
	}{
		{"all valid", map[string]any{"title": "bike", "price_present": true, "price": 0.0, "status": "active"}, ""},
		{"blank title", map[string]any{"title": "   ", "price_present": true}, "title is required and must be at most 10 characters"},
		{"title too long", map[string]any{"title": "a very long title"}, "title is required and must be at most 10 characters"},
		{"missing price", map[string]any{"title": "bike", "price_present": false}, "price is required"},
		{"negative price", map[string]any{"title": "bike", "price_present": true, "price": -1.5}, "price must be non-negative"},
		{"empty status is allowed", map[string]any{"status": ""}, ""},
		{"unknown status", map[string]any{"status": "sold"}, "status must be one of: draft, active"},
		{"absent fields are skipped", map[string]any{}, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := testRules.Check(tc.values)
			if tc.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			var de *domain.Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tc.wantMsg, de.Reason)
		})
	}
}

func TestRules_FirstFailureWins(t *testing.T) {
	err := testRules.Check(map[string]any{"title": "", "price_present": false})
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "title is required and must be at most 10 characters", de.Reason)
}
