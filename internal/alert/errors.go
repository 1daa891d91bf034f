package alert

import "errors"

var (
	// ErrNotFound means no alert has the given id.
	ErrNotFound = errors.New("alert not found")

	// ErrAlreadyReplied rejects a second reply to the same alert.
	ErrAlreadyReplied = errors.New("alert already replied")

	// ErrAlreadyDelivered rejects a reply to an alert whose reply was sent.
	ErrAlreadyDelivered = errors.New("alert already delivered")

	// ErrNotReplied rejects delivery of an alert that has no reply yet.
	ErrNotReplied = errors.New("alert has no reply to deliver")

	// ErrInvalidStatus rejects status values outside the closed set.
	ErrInvalidStatus = errors.New("invalid alert status")

	// ErrInvalid wraps other input validation failures.
	ErrInvalid = errors.New("invalid alert request")
)

// ReplyRejection classifies a reply that matched no row in a status that
// accepts replies. found is false when the alert does not exist.
func ReplyRejection(current Status, found bool) error {
	if !found {
		return ErrNotFound
	}
	switch current {
	case StatusReplied:
		return ErrAlreadyReplied
	case StatusDelivered:
		return ErrAlreadyDelivered
	default:
		// unreachable while transitions stay forward-only
		return ErrAlreadyReplied
	}
}

// DeliveryOutcome classifies a delivery mark that matched no row in
// StatusReplied. An alert already delivered is a no-op, not an error.
func DeliveryOutcome(current Status, found bool) error {
	if !found {
		return ErrNotFound
	}
	if current == StatusDelivered {
		return nil
	}
	return ErrNotReplied
}

// NotifyOutcome classifies a notify mark that matched no row in
// StatusPending. Anything already past pending is a no-op.
func NotifyOutcome(found bool) error {
	if !found {
		return ErrNotFound
	}
	return nil
}
