package models

import "errors"

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound         = errors.New("resource not found") // General not found
	ErrKidNotFound      = errors.New("kid not found")
	ErrStoryNotFound    = errors.New("story not found")
	ErrAccountNotFound  = errors.New("account not found")
	ErrVersionConflict  = errors.New("document was modified concurrently")
	ErrLockNotAcquired  = errors.New("resource is locked by another operation")
	ErrPagesMissing     = errors.New("story pages field is missing or not an array")
	ErrPageOutOfRange   = errors.New("page index is out of range")
	ErrPageMismatch     = errors.New("page content does not match the requested page")
	ErrAlreadyNotified  = errors.New("story ready notification already sent")
	ErrNoReferenceImage = errors.New("kid has no reference image")
	ErrStoryNotReady    = errors.New("story is not ready for this operation")
	ErrTooManyTasks     = errors.New("too many background tasks are running")

	// User & Authentication Errors
	ErrUnauthorized = errors.New("unauthorized") // Authentication required or failed
	ErrForbidden    = errors.New("forbidden")    // Authenticated, but lacks permission

	// Token Errors
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token has expired")

	// Generation Errors
	ErrNoTitles            = errors.New("no titles were generated")
	ErrNoPages             = errors.New("no pages were generated")
	ErrEmptyAIResponse     = errors.New("AI response is empty")
	ErrNoImagePayload      = errors.New("no image payload in AI response")
	ErrContentRefused      = errors.New("content was refused by the model")
	ErrRefinementExhausted = errors.New("image prompt refinement attempts exhausted")
	ErrMissingImagePrompt  = errors.New("page has no image prompt")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrInvalidInput   = errors.New("invalid input data")
)

// ErrorKind - тип ошибки, который видит вызывающая сторона.
type ErrorKind string

const (
	KindUnauthenticated    ErrorKind = "unauthenticated"
	KindInvalidArgument    ErrorKind = "invalid-argument"
	KindNotFound           ErrorKind = "not-found"
	KindFailedPrecondition ErrorKind = "failed-precondition"
	KindOutOfRange         ErrorKind = "out-of-range"
	KindInternal           ErrorKind = "internal"
)

// KindOf сопоставляет ошибку с ErrorKind.
// Всё, что не распознано, считается internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenExpired):
		return KindUnauthenticated
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrBadRequest):
		return KindInvalidArgument
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrKidNotFound),
		errors.Is(err, ErrStoryNotFound),
		errors.Is(err, ErrAccountNotFound):
		return KindNotFound
	case errors.Is(err, ErrPagesMissing),
		errors.Is(err, ErrPageMismatch),
		errors.Is(err, ErrStoryNotReady),
		errors.Is(err, ErrNoReferenceImage),
		errors.Is(err, ErrLockNotAcquired),
		errors.Is(err, ErrTooManyTasks),
		errors.Is(err, ErrVersionConflict):
		return KindFailedPrecondition
	case errors.Is(err, ErrPageOutOfRange):
		return KindOutOfRange
	default:
		return KindInternal
	}
}
