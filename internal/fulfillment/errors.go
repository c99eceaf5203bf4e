package fulfillment

import (
	"errors"
	"net/http"
)

type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindConflict          ErrorKind = "conflict"
	KindNotFound          ErrorKind = "not_found"
	KindPermission        ErrorKind = "permission"
	KindInsufficientStock ErrorKind = "insufficient_stock"
	KindExternalService   ErrorKind = "external_service"
)

type ErrorCode string

const (
	ErrValidation           ErrorCode = "VALIDATION_ERROR"
	ErrNotFound             ErrorCode = "NOT_FOUND"
	ErrAlreadyClaimed       ErrorCode = "ALREADY_CLAIMED"
	ErrAlreadyRedeemed      ErrorCode = "ALREADY_REDEEMED"
	ErrAlreadyPaid          ErrorCode = "ALREADY_PAID"
	ErrCounterOccupied      ErrorCode = "COUNTER_OCCUPIED"
	ErrStaffAlreadySeated   ErrorCode = "STAFF_ALREADY_SEATED"
	ErrQueueEntryExists     ErrorCode = "QUEUE_ENTRY_EXISTS"
	ErrCartProviderMismatch ErrorCode = "CART_PROVIDER_MISMATCH"
	ErrInvalidState         ErrorCode = "INVALID_STATE"
	ErrNotOwner             ErrorCode = "NOT_OWNER"
	ErrNotOccupant          ErrorCode = "NOT_OCCUPANT"
	ErrNotReady             ErrorCode = "NOT_READY"
	ErrCodeMismatch         ErrorCode = "CODE_MISMATCH"
	ErrInsufficientStock    ErrorCode = "INSUFFICIENT_STOCK"
	ErrConversion           ErrorCode = "CONVERSION_UNAVAILABLE"
	ErrCodeSpaceExhausted   ErrorCode = "CODE_SPACE_EXHAUSTED"
	ErrPickupNotRedeemed    ErrorCode = "PICKUP_NOT_REDEEMED"
	ErrConfirmationLocked   ErrorCode = "CONFIRMATION_LOCKED"
)

type Error struct {
	Kind    ErrorKind
	Code    ErrorCode
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

// StatusCode maps the error kind onto the HTTP status used at the API boundary.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict, KindInsufficientStock:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindPermission:
		return http.StatusForbidden
	case KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind ErrorKind, code ErrorCode, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Details: details}
}

func ValidationError(message string) *Error {
	return newError(KindValidation, ErrValidation, message, nil)
}

func NotFound(what string) *Error {
	return newError(KindNotFound, ErrNotFound, what+" not found", nil)
}

func Conflict(code ErrorCode, message string) *Error {
	return newError(KindConflict, code, message, nil)
}

func InvalidState(message string) *Error {
	return newError(KindConflict, ErrInvalidState, message, nil)
}

func AlreadyClaimed() *Error {
	return Conflict(ErrAlreadyClaimed, "Queue entry was already claimed by another staff member")
}

func AlreadyRedeemed() *Error {
	return Conflict(ErrAlreadyRedeemed, "Code was already redeemed")
}

func AlreadyPaid() *Error {
	return Conflict(ErrAlreadyPaid, "Payment was already completed")
}

func CounterOccupied() *Error {
	return Conflict(ErrCounterOccupied, "Counter is occupied by another staff member")
}

func NotOwner() *Error {
	return newError(KindPermission, ErrNotOwner, "Queue entry is claimed by another staff member", nil)
}

func NotOccupant() *Error {
	return newError(KindPermission, ErrNotOccupant, "Staff member does not occupy this counter", nil)
}

func NotReady() *Error {
	return Conflict(ErrNotReady, "Order is not ready for handoff")
}

func CodeMismatch() *Error {
	return newError(KindValidation, ErrCodeMismatch, "Confirmation code does not match", nil)
}

func ConfirmationLocked() *Error {
	return Conflict(ErrConfirmationLocked, "Too many wrong confirmation codes, the patient must request a new code")
}

func InsufficientStock(lotID string, requested, available int64) *Error {
	return newError(KindInsufficientStock, ErrInsufficientStock, "Insufficient stock for the requested quantity", map[string]any{
		"lotId":     lotID,
		"requested": requested,
		"available": available,
	})
}

func PickupNotRedeemed() *Error {
	return newError(KindValidation, ErrPickupNotRedeemed, "Pickup code must be redeemed before payment", nil)
}

func ExternalService(message string) *Error {
	return newError(KindExternalService, ErrConversion, message, nil)
}

// IsCode reports whether err is a fulfillment error carrying code.
func IsCode(err error, code ErrorCode) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// IsKind reports whether err is a fulfillment error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// ErrNoRows is returned by Queries lookups when the row does not exist.
var ErrNoRows = errors.New("fulfillment: no rows")

// ErrDuplicate is returned by Queries inserts that violate a uniqueness constraint.
var ErrDuplicate = errors.New("fulfillment: duplicate key")
