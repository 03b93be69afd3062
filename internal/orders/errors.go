package orders

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInsufficientStock Kind = "insufficient_stock"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindInvalidArgument   Kind = "invalid_argument"
	KindUnavailable       Kind = "unavailable"
)

const (
	EntityProduct = "product"
	EntityOrder   = "order"
)

// Error is the structured failure returned by every operation in this package.
// Only the fields relevant to Kind are set.
type Error struct {
	Kind      Kind
	Entity    string
	ID        int64
	Requested int
	Available int
	From      Status
	To        Status
	Reason    string
	Err       error
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	ErrUnavailable       = &Error{Kind: KindUnavailable}
)

// ErrIdempotencyKeyUsed is returned inside a reservation when another order
// already owns the idempotency key. The service turns it into a replay.
var ErrIdempotencyKeyUsed = errors.New("idempotency key already used")

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		if e.Entity == "" {
			return "not found"
		}
		return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
	case KindInsufficientStock:
		return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ID, e.Requested, e.Available)
	case KindConflict:
		if e.Entity == "" {
			return "conflict"
		}
		return fmt.Sprintf("%s %d cannot be modified: %s", e.Entity, e.ID, e.Reason)
	case KindInvalidTransition:
		return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
	case KindUnavailable:
		if e.Err != nil {
			return fmt.Sprintf("store unavailable: %v", e.Err)
		}
		return "store unavailable"
	default:
		if e.Reason != "" {
			return e.Reason
		}
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can use errors.Is(err, ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NotFound(entity string, id int64) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id}
}

func InsufficientStock(productID int64, requested, available int) *Error {
	return &Error{Kind: KindInsufficientStock, Entity: EntityProduct, ID: productID, Requested: requested, Available: available}
}

func Conflict(entity string, id int64, reason string) *Error {
	return &Error{Kind: KindConflict, Entity: entity, ID: id, Reason: reason}
}

func InvalidTransition(from, to Status) *Error {
	return &Error{Kind: KindInvalidTransition, Entity: EntityOrder, From: from, To: to}
}

func InvalidArgument(reason string) *Error {
	return &Error{Kind: KindInvalidArgument, Reason: reason}
}

func Unavailable(err error) *Error {
	return &Error{Kind: KindUnavailable, Err: err}
}

// KindOf returns the kind of a domain error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsDomain reports whether err is a business outcome rather than an infrastructure fault.
func IsDomain(err error) bool {
	k := KindOf(err)
	return k != "" && k != KindUnavailable
}
