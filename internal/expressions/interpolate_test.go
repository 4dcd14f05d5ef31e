package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterpolate(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": "X"},
		"client": map[string]any{
			"email": "a@b.com",
			"plan":  map[string]any{"seats": 5},
		},
		"flag": true,
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"resolved path", "{{a.b}}", "X"},
		{"missing leaf stays verbatim", "{{a.c}}", "{{a.c}}"},
		{"missing root stays verbatim", "{{z.b}}", "{{z.b}}"},
		{"embedded in text", "Welcome {{client.email}}!", "Welcome a@b.com!"},
		{"nested numeric", "seats: {{client.plan.seats}}", "seats: 5"},
		{"boolean", "{{flag}}", "true"},
		{"traversal through non-map stays verbatim", "{{a.b.c}}", "{{a.b.c}}"},
		{"multiple placeholders", "{{a.b}} and {{a.c}}", "X and {{a.c}}"},
		{"no placeholders", "plain text", "plain text"},
		{"unclosed marker kept", "oops {{a.b", "oops {{a.b"},
		{"whitespace inside braces", "{{ a.b }}", "X"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpolate(tt.in, data))
		})
	}
}

func TestInterpolate_NilContext(t *testing.T) {
	assert.Equal(t, "{{a.b}}", Interpolate("{{a.b}}", nil))
}

func TestInterpolateShallow(t *testing.T) {
	config := map[string]any{
		"subject": "Hi {{client.name}}",
		"retries": 3,
		"missing": "{{client.phone}}",
	}
	data := map[string]any{"client": map[string]any{"name": "Ada"}}

	out := InterpolateShallow(config, data)
	assert.Equal(t, "Hi Ada", out["subject"])
	assert.Equal(t, 3, out["retries"])
	assert.Equal(t, "{{client.phone}}", out["missing"])
}

func TestInterpolateDeep(t *testing.T) {
	config := map[string]any{
		"body": "Hello {{client.name}}",
		"options": map[string]any{
			"cc": "{{manager.email}}",
		},
		"tags":  []any{"{{client.tier}}", "fixed"},
		"count": 2,
	}
	data := map[string]any{
		"client":  map[string]any{"name": "Ada", "tier": "gold"},
		"manager": map[string]any{"email": "boss@example.com"},
	}

	out := InterpolateDeep(config, data)
	assert.Equal(t, "Hello Ada", out["body"])
	assert.Equal(t, "boss@example.com", out["options"].(map[string]any)["cc"])
	assert.Equal(t, []any{"gold", "fixed"}, out["tags"])
	assert.Equal(t, 2, out["count"])

	// Source config is untouched.
	assert.Equal(t, "Hello {{client.name}}", config["body"])
}
