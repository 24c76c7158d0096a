package auth

import (
	"errors"
	"fmt"
)

// Kinds of authentication failure. Match them with errors.Is.
var (
	ErrBadCredentials   = errors.New("incorrect email or password")
	ErrUnconfirmed      = errors.New("account is not confirmed")
	ErrRateLimited      = errors.New("too many attempts")
	ErrUnknownUser      = errors.New("email is not registered")
	ErrUserExists       = errors.New("email is already registered")
	ErrInvalidPassword  = errors.New("password does not meet the policy")
	ErrInvalidParameter = errors.New("invalid email or parameter")
	ErrCodeMismatch     = errors.New("verification code is incorrect")
	ErrExpiredCode      = errors.New("verification code has expired")
	ErrNoSession        = errors.New("not signed in")
)

// Password policy violations, reported before any remote call.
var (
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrPasswordNoUpper  = errors.New("password needs an uppercase letter")
	ErrPasswordNoLower  = errors.New("password needs a lowercase letter")
	ErrPasswordNoDigit  = errors.New("password needs a digit")
	ErrPasswordNoSymbol = errors.New("password needs a symbol")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrEmptyPassword    = errors.New("password is required")
	ErrEmptyEmail       = errors.New("email is required")
	ErrEmptyCode        = errors.New("verification code is required")
	ErrSamePassword     = errors.New("new password must differ from the current one")
)

// codeKinds maps identity provider error codes to the failure kinds above.
var codeKinds = map[string]error{
	"NotAuthorizedException":         ErrBadCredentials,
	"invalid_grant":                  ErrBadCredentials,
	"UserNotConfirmedException":      ErrUnconfirmed,
	"user_not_confirmed":             ErrUnconfirmed,
	"TooManyRequestsException":       ErrRateLimited,
	"LimitExceededException":         ErrRateLimited,
	"TooManyFailedAttemptsException": ErrRateLimited,
	"UserNotFoundException":          ErrUnknownUser,
	"user_not_found":                 ErrUnknownUser,
	"UsernameExistsException":        ErrUserExists,
	"InvalidPasswordException":       ErrInvalidPassword,
	"InvalidParameterException":      ErrInvalidParameter,
	"CodeMismatchException":          ErrCodeMismatch,
	"ExpiredCodeException":           ErrExpiredCode,
}

// Error is a failure reported by the identity provider.
type Error struct {
	Kind    error
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// newError classifies a provider code. Unknown codes keep the provider message.
func newError(code, message string) error {
	kind, ok := codeKinds[code]
	if !ok {
		if message == "" {
			message = code
		}
		return fmt.Errorf("auth: %s", message)
	}
	return &Error{Kind: kind, Code: code, Message: message}
}

// UserMessage returns the fixed user-facing text for an authentication failure.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBadCredentials):
		return "Incorrect email or password."
	case errors.Is(err, ErrUnconfirmed):
		return "The account is not confirmed yet. Check your email for the code."
	case errors.Is(err, ErrRateLimited):
		return "Too many attempts. Please wait a moment and try again."
	case errors.Is(err, ErrUnknownUser):
		return "This email is not registered."
	case errors.Is(err, ErrUserExists):
		return "This email is already registered."
	case errors.Is(err, ErrInvalidPassword):
		return "The password does not meet the requirements."
	case errors.Is(err, ErrInvalidParameter):
		return "The email format is invalid."
	case errors.Is(err, ErrCodeMismatch):
		return "The verification code is incorrect."
	case errors.Is(err, ErrExpiredCode):
		return "The verification code has expired. Request a new one."
	case errors.Is(err, ErrNoSession):
		return "You are not signed in."
	default:
		return err.Error()
	}
}
