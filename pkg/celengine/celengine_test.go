package celengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	vars := map[string]any{
		"referral": map[string]any{"source": "landing-page", "utm_source": "instagram"},
		"event":    "onReferral",
	}

	ok, err := Evaluate(`referral.source == "landing-page" && event == "onReferral"`, vars)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Evaluate(`referral.utm_source == "facebook"`, vars)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvaluateEmptyExpressionPasses(t *testing.T) {
	ok, err := Evaluate("", nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestValidateExpression(t *testing.T) {
	require.NoError(t, ValidateExpression(`campaign.status == "active"`))
	require.Error(t, ValidateExpression(`event + 1`))
	require.Error(t, ValidateExpression(`"not a bool"`))
}

func TestStructToMap(t *testing.T) {
	type ref struct {
		Source string `json:"source"`
	}
	require.Equal(t, map[string]any{"source": "manual"}, StructToMap(ref{Source: "manual"}))
	require.Empty(t, StructToMap(nil))
}
