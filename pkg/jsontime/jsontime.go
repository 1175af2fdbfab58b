// Package jsontime provides time types with a compact JSON form.
package jsontime

import (
	"encoding/json"
	"time"
)

// Milli is a time.Time that serializes to Unix milliseconds. The zero time
// serializes to 0.
type Milli time.Time

// Now returns the current time as Milli.
func Now() Milli {
	return Milli(time.Now())
}

// Time returns the underlying time.Time value.
func (m Milli) Time() time.Time {
	return time.Time(m)
}

// IsZero reports whether m is the zero time.
func (m Milli) IsZero() bool {
	return time.Time(m).IsZero()
}

// MarshalJSON implements json.Marshaler.
func (m Milli) MarshalJSON() ([]byte, error) {
	if m.IsZero() {
		return []byte("0"), nil
	}
	return json.Marshal(time.Time(m).UnixMilli())
}

// UnmarshalJSON implements json.Unmarshaler. 0 and null decode to the
// zero time.
func (m *Milli) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = Milli{}
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	if ms == 0 {
		*m = Milli{}
		return nil
	}
	*m = Milli(time.UnixMilli(ms))
	return nil
}
