package whatsapp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanMessage(t *testing.T) {
	got, err := CleanMessage("  I want\t\tto   buy\n\ncar insurance  ", 4096)
	require.NoError(t, err)
	assert.Equal(t, "I want to buy car insurance", got)
}

func TestCleanMessage_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t "} {
		_, err := CleanMessage(in, 4096)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
}

func TestCleanMessage_Truncates(t *testing.T) {
	got, err := CleanMessage(strings.Repeat("a", 5000), 4096)
	require.NoError(t, err)
	assert.Len(t, got, 4099)
	assert.True(t, strings.HasSuffix(got, "..."))

	exact, err := CleanMessage(strings.Repeat("b", 4096), 4096)
	require.NoError(t, err)
	assert.Len(t, exact, 4096)
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+6591234567", "+6591234567", false},
		{"+65 9123-4567", "+6591234567", false},
		{"(65) 9123 4567", "6591234567", false},
		{"12345678", "12345678", false},
		{"1234567", "", true},
		{"+1234567", "+1234567", false},
		{"+123456", "", true},
		{"1234567890123456", "", true},
		{"not a phone", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSender)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePhone_Idempotent(t *testing.T) {
	for _, in := range []string{"+65 9123 4567", "6591234567", "+1 (415) 555-0100"} {
		once, err := NormalizePhone(in)
		require.NoError(t, err)
		twice, err := NormalizePhone(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}
