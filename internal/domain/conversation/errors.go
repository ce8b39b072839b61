package conversation

import (
	"errors"
	"fmt"
)

// Code is the stable wire identifier of a business rule failure.
type Code string

const (
	CodeNotParticipant      Code = "NOT_PARTICIPANT"
	CodeConversationClosed  Code = "CONVERSATION_CLOSED"
	CodeNotOwner            Code = "NOT_OWNER"
	CodeImmutableMessage    Code = "IMMUTABLE_MESSAGE"
	CodeTargetNotFound      Code = "TARGET_NOT_FOUND"
	CodeMalformedIdentifier Code = "MALFORMED_IDENTIFIER"
	CodeInvalidInput        Code = "INVALID_INPUT"
	CodeForbidden           Code = "FORBIDDEN"
)

var (
	ErrNotParticipant      = errors.New("conversation: user is not a participant")
	ErrConversationClosed  = errors.New("conversation: conversation is closed")
	ErrNotOwner            = errors.New("conversation: only the sender may change this message")
	ErrImmutableMessage    = errors.New("conversation: message cannot be changed")
	ErrTargetNotFound      = errors.New("conversation: target not found")
	ErrMalformedIdentifier = errors.New("conversation: malformed identifier")
	ErrInvalidInput        = errors.New("conversation: invalid input")
	ErrForbidden           = errors.New("conversation: operation not permitted for role")

	ErrConversationNotFound = fmt.Errorf("%w: conversation", ErrTargetNotFound)
	ErrMessageNotFound      = fmt.Errorf("%w: message", ErrTargetNotFound)

	ErrDuplicateOpenConversation = errors.New("conversation: open conversation already exists")
	// ErrOpenConversationPending means another request reserved the open key and has not yet
	// written the conversation; re-reading shortly returns it.
	ErrOpenConversationPending = errors.New("conversation: open conversation is still being created")
	ErrConcurrentUpdate        = errors.New("conversation: concurrent update detected")
	ErrInvalidTransition       = errors.New("conversation: invalid status transition")
)

var codeErrors = []struct {
	code Code
	err  error
}{
	{CodeNotParticipant, ErrNotParticipant},
	{CodeConversationClosed, ErrConversationClosed},
	{CodeNotOwner, ErrNotOwner},
	{CodeImmutableMessage, ErrImmutableMessage},
	{CodeTargetNotFound, ErrTargetNotFound},
	{CodeMalformedIdentifier, ErrMalformedIdentifier},
	{CodeInvalidInput, ErrInvalidInput},
	{CodeForbidden, ErrForbidden},
}

// CodeOf reports the wire code of a business rule error, or false for anything else.
func CodeOf(err error) (Code, bool) {
	if err == nil {
		return "", false
	}
	if errors.Is(err, ErrInvalidTransition) {
		return CodeInvalidInput, true
	}
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code, true
		}
	}
	return "", false
}

// ErrorForCode maps a wire code back to its sentinel.
func ErrorForCode(code Code) (error, bool) {
	for _, ce := range codeErrors {
		if ce.code == code {
			return ce.err, true
		}
	}
	return nil, false
}

// IsPermanent reports whether err is a business rule failure that retrying cannot fix.
func IsPermanent(err error) bool {
	_, ok := CodeOf(err)
	return ok
}

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
