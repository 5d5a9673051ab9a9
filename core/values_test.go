package core

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	tests := []struct {
		name    string
		value   int64
		wantErr bool
	}{
		{name: "zero", value: 0},
		{name: "positive", value: 42},
		{name: "max", value: 1<<63 - 1},
		{name: "negative", value: -1, wantErr: true},
		{name: "min", value: -1 << 63, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewID(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.True(t, verr.Has("id", RuleRange))
				assert.True(t, id.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.value, id.Int64())
		})
	}
}

func TestIDString(t *testing.T) {
	for _, v := range []int64{0, 7, 1000000007, 1<<63 - 1} {
		assert.Equal(t, formatInt(v), MustID(v).String())
	}
}

func formatInt(v int64) string {
	if v == 0 {
		return "0"
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

func TestMustIDPanicsOnNegative(t *testing.T) {
	assert.Panics(t, func() { MustID(-5) })
}

func TestNewName(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantRules []string
	}{
		{name: "valid", raw: "alice"},
		{name: "min length", raw: "bob"},
		{name: "max length", raw: strings.Repeat("x", 30)},
		{name: "multibyte counted as runes", raw: "ñoñ"},
		{name: "too short", raw: "al", wantRules: []string{RuleLength}},
		{name: "too long", raw: strings.Repeat("x", 31), wantRules: []string{RuleLength}},
		{name: "blank but long enough", raw: "     ", wantRules: []string{RuleRequired}},
		{name: "empty reports both", raw: "", wantRules: []string{RuleRequired, RuleLength}},
		{name: "short blank reports both", raw: "  ", wantRules: []string{RuleRequired, RuleLength}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := NewName(tt.raw)
			if len(tt.wantRules) == 0 {
				require.NoError(t, err)
				assert.Equal(t, tt.raw, n.String())
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Len(t, verr.Violations, len(tt.wantRules))
			for _, rule := range tt.wantRules {
				assert.True(t, verr.Has("name", rule), "missing rule %s", rule)
			}
			assert.True(t, n.IsZero())
		})
	}
}

func TestNewEmail(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantRules []string
	}{
		{name: "valid", raw: "alice@example.com"},
		{name: "missing domain", raw: "alice@", wantRules: []string{RuleFormat}},
		{name: "no at sign", raw: "alice.example.com", wantRules: []string{RuleFormat}},
		{name: "blank", raw: "", wantRules: []string{RuleRequired}},
		{name: "too long", raw: strings.Repeat("a", 250) + "@example.com", wantRules: []string{RuleLength}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEmail(tt.raw)
			if len(tt.wantRules) == 0 {
				require.NoError(t, err)
				assert.Equal(t, tt.raw, e.String())
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			for _, rule := range tt.wantRules {
				assert.True(t, verr.Has("email", rule), "missing rule %s", rule)
			}
		})
	}
}

func TestNewPassword(t *testing.T) {
	_, err := NewPassword("Sup3r$ecret")
	require.NoError(t, err)

	_, err = NewPassword("short")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("password", RuleLength))
	assert.True(t, verr.Has("password", RuleFormat))

	p, err := NewPassword("Sup3r$ecret")
	require.NoError(t, err)
	assert.NotContains(t, p.String(), "Sup3r")
}

func TestNewContent(t *testing.T) {
	_, err := NewContent("hi")
	require.NoError(t, err)

	_, err = NewContent(strings.Repeat("é", 300))
	require.NoError(t, err)

	_, err = NewContent(strings.Repeat("é", 301))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("content", RuleLength))

	_, err = NewContent("")
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("content", RuleRequired))
	assert.True(t, verr.Has("content", RuleLength))
}

func TestNewToken(t *testing.T) {
	_, err := NewToken("abc-123")
	require.NoError(t, err)

	_, err = NewToken("has space")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("token", RuleFormat))

	a, b := GenerateToken(), GenerateToken()
	assert.NotEqual(t, a, b)
	_, err = NewToken(a.String())
	assert.NoError(t, err)
}

func TestPasswordHash(t *testing.T) {
	p, err := NewPassword("Sup3r$ecret")
	require.NoError(t, err)
	other, err := NewPassword("0ther$ecret")
	require.NoError(t, err)

	h, err := HashPassword(p)
	require.NoError(t, err)
	assert.True(t, h.Verify(p))
	assert.False(t, h.Verify(other))

	parsed, err := ParsePasswordHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParsePasswordHash("plain-text")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = HashPassword(Password{})
	assert.ErrorIs(t, err, ErrValidation)
}
