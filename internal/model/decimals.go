package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decimals models a token's decimal count as either a known integer or an
// explicit unknown that must be resolved before any amount arithmetic.
// The zero value is Unknown.
type Decimals struct {
	value int
	known bool
}

func KnownDecimals(v int) Decimals {
	return Decimals{value: v, known: true}
}

func UnknownDecimals() Decimals {
	return Decimals{}
}

func (d Decimals) Known() bool { return d.known }

// Value returns the decimal count; ok is false when unresolved.
func (d Decimals) Value() (int, bool) {
	return d.value, d.known
}

func (d Decimals) String() string {
	if !d.known {
		return "unknown"
	}
	return fmt.Sprintf("%d", d.value)
}

var jsonNull = []byte("null")

func (d Decimals) MarshalJSON() ([]byte, error) {
	if !d.known {
		return jsonNull, nil
	}
	return json.Marshal(d.value)
}

func (d *Decimals) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*d = Decimals{}
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decimals: %w", err)
	}
	if v < 0 {
		return fmt.Errorf("decimals: negative value %d", v)
	}
	*d = Decimals{value: v, known: true}
	return nil
}
