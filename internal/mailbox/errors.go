package mailbox

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// LocatorError means a message body could not be retrieved or decoded.
type LocatorError struct {
	MessageID string
	Err       error
}

func (e *LocatorError) Error() string {
	return fmt.Sprintf("locate message %s: %v", e.MessageID, e.Err)
}

func (e *LocatorError) Unwrap() error { return e.Err }

// AuthExpiredError means the mailbox credential was revoked or expired.
type AuthExpiredError struct {
	Err error
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("mailbox credential expired or revoked: %v", e.Err)
}

func (e *AuthExpiredError) Unwrap() error { return e.Err }

func IsAuthExpired(err error) bool {
	var ae *AuthExpiredError
	return errors.As(err, &ae)
}

// classify turns token refresh failures into *AuthExpiredError and leaves everything else alone.
func classify(err error) error {
	if err == nil || IsAuthExpired(err) {
		return err
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
		return &AuthExpiredError{Err: err}
	}
	msg := err.Error()
	if strings.Contains(msg, "invalid_grant") || strings.Contains(msg, "Token has been expired or revoked") {
		return &AuthExpiredError{Err: err}
	}
	return err
}
