package bridge

import (
	"errors"
	"fmt"
)

// ErrTimedOut reports that no reply carrying the call's correlation id
// arrived before the deadline. It does not necessarily mean the backend
// failed; the reply may simply not have been produced yet.
var ErrTimedOut = errors.New("timed out awaiting matching reply")

// ValidationError reports caller input rejected before any broker
// interaction took place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PublishError reports that the broker did not accept an outbound request.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// BrokerError reports a subscription or poll failure on the response topic,
// distinct from a timeout.
type BrokerError struct {
	Topic string
	Err   error
}

func (e *BrokerError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("broker failure: %v", e.Err)
	}
	return fmt.Sprintf("broker failure on %s: %v", e.Topic, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }
