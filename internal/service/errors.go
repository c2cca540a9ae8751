package service

import (
	"errors"
	"fmt"
)

// Kind classifies a service error so both transports map it the same way:
// the HTTP layer picks a status code, the socket layer an ack error code.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindNotAuthorized   Kind = "not_authorized"
	KindValidation      Kind = "validation"
	KindConflict        Kind = "conflict"
	KindPolicyViolation Kind = "policy_violation"
	KindTransient       Kind = "transient"
)

type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapTransient marks a dependency failure (storage, redis) as retryable.
func WrapTransient(message string, cause error) *Error {
	return &Error{Kind: KindTransient, Message: message, cause: cause}
}

// KindOf extracts the Kind from err, defaulting to Transient for anything
// that did not originate in a service.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

var (
	ErrUserNotFound    = NewError(KindNotFound, "user not found")
	ErrChannelNotFound = NewError(KindNotFound, "channel not found")
	ErrMessageNotFound = NewError(KindNotFound, "message not found")
	ErrParentNotFound  = NewError(KindNotFound, "thread parent not found")

	ErrNotMember = NewError(KindNotAuthorized, "user is not a member of this channel")
	ErrNotAuthor = NewError(KindNotAuthorized, "user is not the author of this message")

	ErrNameInvalid    = NewError(KindValidation, "channel name must match [a-z0-9-_]{3,50}")
	ErrEmptyContent   = NewError(KindValidation, "message content is required")
	ErrContentTooLong = NewError(KindValidation, "message content exceeds the maximum length")
	ErrInvalidEmoji   = NewError(KindValidation, "emoji is required")

	ErrNameTaken      = NewError(KindConflict, "channel name is already taken")
	ErrAlreadyMember  = NewError(KindConflict, "user is already a member of this channel")
	ErrAlreadyInState = NewError(KindConflict, "message pin state is unchanged")

	ErrPublicLimitReached   = NewError(KindPolicyViolation, "public channel limit reached")
	ErrNotPublic            = NewError(KindPolicyViolation, "channel is not public")
	ErrEditWindowExpired    = NewError(KindPolicyViolation, "edit window has expired")
	ErrThreadDepthExceeded  = NewError(KindPolicyViolation, "thread nesting depth exceeded")
	ErrAttachmentNotAllowed = NewError(KindPolicyViolation, "attachments are only allowed in direct channels")
	ErrMessageDeleted       = NewError(KindPolicyViolation, "message has been deleted")
)
