package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/al-bashkir/ipo-result-relay/internal/ipo"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// flexString accepts a JSON string or number and remembers which it was, so
// the value can be forwarded upstream with the same type.
type flexString struct {
	text   string
	number bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = flexString{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString{text: s}
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString{text: n.String(), number: true}
	return nil
}

// bulkCheckRequest is the body of POST /ipo/bulk-check.
type bulkCheckRequest struct {
	CompanyID   flexString   `json:"companyId"`
	BOIDs       []flexString `json:"boids"`
	UserCaptcha flexString   `json:"usercaptcha"`
}

// bulkRequest converts the body into a checker request.
func (b bulkCheckRequest) bulkRequest() ipo.BulkRequest {
	req := ipo.BulkRequest{
		CompanyID:   b.CompanyID.text,
		BOIDs:       make([]string, len(b.BOIDs)),
		UserCaptcha: b.UserCaptcha.text,
		Numeric: ipo.NumericFields{
			CompanyID:   b.CompanyID.number,
			BOIDs:       make([]bool, len(b.BOIDs)),
			UserCaptcha: b.UserCaptcha.number,
		},
	}
	for i, id := range b.BOIDs {
		req.BOIDs[i] = id.text
		req.Numeric.BOIDs[i] = id.number
	}
	return req
}
