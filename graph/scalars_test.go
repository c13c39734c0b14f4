package graph

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalDecimal_AcceptsFormattedStrings(t *testing.T) {
	cases := []struct {
		in       any
		expected string
	}{
		{"845000", "845000"},
		{"8,45,000", "845000"},
		{"₹ 12,45,000", "1245000"},
		{"Rs. 9,99,999.50", "999999.5"},
		{"INR -20,000", "-20000"},
		{json.Number("1234.50"), "1234.5"},
		{int64(42), "42"},
	}
	for _, tc := range cases {
		d, err := UnmarshalDecimal(tc.in)
		require.NoError(t, err, "input %v", tc.in)
		assert.Equal(t, tc.expected, d.String(), "input %v", tc.in)
	}

	_, err := UnmarshalDecimal("Rs")
	assert.Error(t, err)
	_, err = UnmarshalDecimal(true)
	assert.Error(t, err)
}

func TestMarshalDecimalQuotes(t *testing.T) {
	var buf bytes.Buffer
	MarshalDecimal(decimal.RequireFromString("845000.50")).MarshalGQL(&buf)
	assert.Equal(t, `"845000.5"`, buf.String())
}

func TestUnmarshalTime(t *testing.T) {
	got, err := UnmarshalTime("2025-02-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = UnmarshalTime("2025-02-01T10:30:00+05:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 1, 5, 0, 0, 0, time.UTC), got)

	_, err = UnmarshalTime("next week")
	assert.Error(t, err)
	_, err = UnmarshalTime(20250201)
	assert.Error(t, err)
}
