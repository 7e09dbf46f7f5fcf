package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var schema = Schema{
	"email":   {Required: true, Format: FormatEmail},
	"channel": {Required: true, MinLength: 1},
}

func TestApplyValid(t *testing.T) {
	fields, verr := schema.Apply(map[string]any{"email": "a@b.com", "channel": "tech"})
	require.Nil(t, verr)
	assert.Equal(t, "a@b.com", fields["email"])
	assert.Equal(t, "tech", fields["channel"])
}

func TestApplyViolations(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"missing email", map[string]any{"channel": "tech"}, "'email' is a required field"},
		{"missing channel", map[string]any{"email": "a@b.com"}, "'channel' is a required field"},
		{"empty channel", map[string]any{"email": "a@b.com", "channel": ""}, "'channel' must be at least 1 character(s)"},
		{"no at sign", map[string]any{"email": "not-an-email", "channel": "tech"}, "'email' is not in a valid format"},
		{"no domain segment", map[string]any{"email": "a@b", "channel": "tech"}, "'email' is not in a valid format"},
		{"whitespace in email", map[string]any{"email": "a b@c.com", "channel": "tech"}, "'email' is not in a valid format"},
		{"non-string email", map[string]any{"email": 42, "channel": "tech"}, "'email' must be a string"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fields, verr := schema.Apply(c.payload)
			require.NotNil(t, verr)
			assert.Nil(t, fields)
			assert.Contains(t, verr.Violations, c.want)
		})
	}
}

func TestApplyCollectsAllViolations(t *testing.T) {
	_, verr := schema.Apply(map[string]any{})
	require.NotNil(t, verr)
	assert.Len(t, verr.Violations, 2)
	// Violations are reported in field order for stable messages.
	assert.Equal(t, "'channel' is a required field", verr.Violations[0])
	assert.Equal(t, "'email' is a required field", verr.Violations[1])
}

func TestApplyIgnoresUnknownFields(t *testing.T) {
	fields, verr := schema.Apply(map[string]any{"email": "a@b.com", "channel": "tech", "extra": true})
	require.Nil(t, verr)
	assert.Len(t, fields, 2)
}

func TestErrorMessage(t *testing.T) {
	_, verr := schema.Apply(map[string]any{"email": "bad", "channel": "tech"})
	require.NotNil(t, verr)
	assert.Contains(t, verr.Error(), "not in a valid format")
}
