package upstream

import (
	"encoding/json"
	"strconv"
)

// Scalar is a request field forwarded with the JSON type the client used.
// The site's own page posts some fields as numbers and others as strings,
// so the relay does not pick one.
type Scalar struct {
	Text   string
	Number bool
}

// Text wraps a value sent as a JSON string.
func Text(s string) Scalar { return Scalar{Text: s} }

// Number wraps a value sent as a JSON number.
func Number(s string) Scalar { return Scalar{Text: s, Number: true} }

// MarshalJSON implements json.Marshaler.
func (s Scalar) MarshalJSON() ([]byte, error) {
	if s.Number {
		if _, err := strconv.ParseFloat(s.Text, 64); err == nil {
			return []byte(s.Text), nil
		}
	}
	return json.Marshal(s.Text)
}
