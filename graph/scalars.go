package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/shopspring/decimal"
)

// MarshalDecimal writes amounts as strings so no precision is lost in JSON clients.
func MarshalDecimal(d decimal.Decimal) graphql.Marshaler {
	return graphql.WriterFunc(func(w io.Writer) {
		_, _ = io.WriteString(w, strconv.Quote(d.String()))
	})
}

// UnmarshalDecimal accepts numbers and the strings the sales desk types, such as
// "₹ 12,45,000", "Rs 9,99,999.50" or "INR 800000".
func UnmarshalDecimal(v any) (decimal.Decimal, error) {
	switch v := v.(type) {
	case string:
		s := strings.TrimSpace(v)
		for _, prefix := range []string{"₹", "INR", "inr", "Rs.", "rs.", "Rs", "rs"} {
			s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
		}
		neg := strings.HasPrefix(s, "-")
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))

		var b strings.Builder
		for _, r := range s {
			if (r >= '0' && r <= '9') || r == '.' {
				b.WriteRune(r)
			}
		}
		clean := b.String()
		if clean == "" {
			return decimal.Zero, fmt.Errorf("invalid amount %q", v)
		}
		if neg {
			clean = "-" + clean
		}
		return decimal.NewFromString(clean)
	case json.Number:
		return decimal.NewFromString(v.String())
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Zero, fmt.Errorf("invalid amount %v", v)
	}
}

// UnmarshalTime takes RFC 3339 timestamps or plain dates; dates are midnight UTC.
func UnmarshalTime(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("time must be a string")
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return t, nil
}

// decimalArg and timeArg let input objects decode through the scalar rules above.
type decimalArg struct {
	decimal.Decimal
}

func (d *decimalArg) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	v, err := UnmarshalDecimal(raw)
	if err != nil {
		return err
	}
	d.Decimal = v
	return nil
}

type timeArg struct {
	time.Time
}

func (t *timeArg) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := UnmarshalTime(raw)
	if err != nil {
		return err
	}
	t.Time = v
	return nil
}

func (t *timeArg) ptr() *time.Time {
	if t == nil {
		return nil
	}
	v := t.Time
	return &v
}
