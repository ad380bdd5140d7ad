// Package ipo holds the allotment domain: results, the keyword classifier
// and the bulk checker that drives upstream lookups.
package ipo

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidInput marks missing or malformed request parameters.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionExpired means no captcha session is stored.
	ErrSessionExpired = errors.New("captcha session expired")
)

// Messages attached to results that did not come from upstream verbatim.
const (
	MessageAllotted    = "Allotted"
	MessageNotAllotted = "Not allotted"
	MessageCheckFailed = "Error checking result"
)

// Result is the allotment outcome for one account and company.
type Result struct {
	BOID      string `json:"boid"`
	CompanyID string `json:"-"`
	Allotted  bool   `json:"allotted"`
	Message   string `json:"message,omitempty"`
	Cached    bool   `json:"cached,omitempty"`
	Error     bool   `json:"error,omitempty"`
}

// failed builds the error-flagged, non-allotted entry for a lookup that did
// not complete.
func failed(boid, companyID, message string) Result {
	return Result{
		BOID:      boid,
		CompanyID: companyID,
		Allotted:  false,
		Message:   message,
		Error:     true,
	}
}

// Classify derives the allotment flag from upstream text. "not allotted" is
// tested first because "allotted" is a substring of it. Text containing
// neither counts as not allotted.
func Classify(text string) bool {
	t := strings.ToLower(text)
	if strings.Contains(t, "not allotted") {
		return false
	}
	return strings.Contains(t, "allotted")
}

// classifyMessage is the human-readable form of Classify.
func classifyMessage(allotted bool) string {
	if allotted {
		return MessageAllotted
	}
	return MessageNotAllotted
}

// isCaptchaRejection reports whether an upstream failure message is about
// the captcha rather than the account.
func isCaptchaRejection(success bool, message string) bool {
	return !success && strings.Contains(strings.ToLower(message), "captcha")
}
