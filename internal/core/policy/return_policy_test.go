package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnPolicy_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{name: "syntax error", expr: "reason ==="},
		{name: "unknown variable", expr: "customer == \"x\""},
		{name: "non bool result", expr: "quantity + 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReturnPolicy(tt.expr)
			assert.Error(t, err)
		})
	}
}

func TestReturnPolicy_Allow(t *testing.T) {
	p := MustReturnPolicy(`reason != "customer_request" || days_since_pack <= 30`)

	tests := []struct {
		name  string
		facts ReturnFacts
		want  bool
	}{
		{
			name:  "damaged always allowed",
			facts: ReturnFacts{Reason: "damaged", DaysSincePack: 90, Quantity: 1},
			want:  true,
		},
		{
			name:  "customer request inside window",
			facts: ReturnFacts{Reason: "customer_request", DaysSincePack: 10, Quantity: 1},
			want:  true,
		},
		{
			name:  "customer request outside window",
			facts: ReturnFacts{Reason: "customer_request", DaysSincePack: 31, Quantity: 1},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Allow(tt.facts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReturnPolicy_EmptyAllowsEverything(t *testing.T) {
	p, err := NewReturnPolicy("")
	require.NoError(t, err)
	assert.Equal(t, "true", p.Expression())

	ok, err := p.Allow(ReturnFacts{Reason: "wrong_item"})
	require.NoError(t, err)
	assert.True(t, ok)
}
