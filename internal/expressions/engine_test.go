package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/playbook/pkg/schema"
)

func TestCELEngine_Evaluate(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)
	ctx := context.Background()

	data := map[string]any{
		"payload": map[string]any{"amount": 150.0, "country": "DE"},
		"memory":  map[string]any{"attempts": 2.0},
	}

	out, err := eng.Evaluate(ctx, `payload.amount > 100.0 && payload.country == "DE"`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = eng.Evaluate(ctx, `memory.attempts >= 3.0`, data)
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestCELEngine_MissingScopeDefaultsToEmptyMap(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	out, err := eng.Evaluate(context.Background(), `"amount" in payload`, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestCELEngine_CompileError(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	_, err = eng.Evaluate(context.Background(), `payload.amount >`, nil)
	require.Error(t, err)
	pbErr := err.(*schema.PlaybookError)
	assert.Equal(t, schema.ErrCodeValidation, pbErr.Code)
}

func TestExprEngine_Evaluate(t *testing.T) {
	eng := NewExprEngine()
	ctx := context.Background()

	data := map[string]any{
		"payload": map[string]any{"tags": []any{"vip", "trial"}},
	}

	out, err := eng.Evaluate(ctx, `"vip" in payload.tags`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	// Undefined variables resolve to nil instead of failing compilation.
	out, err = eng.Evaluate(ctx, `missing ?? "fallback"`, data)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestExprEngine_EmptyExpression(t *testing.T) {
	eng := NewExprEngine()
	_, err := eng.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}
