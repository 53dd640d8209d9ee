// Package brokererr defines the closed set of error kinds that flow through
// the order and policy paths instead of untyped errors. Callers switch on
// Kind() to decide retry/propagate/skip behaviour per component.
package brokererr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories from the error handling design.
type Kind int

const (
	// KindUnknown is never constructed directly; it is the zero value
	// returned by Kind() for errors that do not carry a Kind.
	KindUnknown Kind = iota
	KindAuth
	KindValidation
	KindRateLimited
	KindTransientRPC
	KindBrokerRejection
	KindPolicyBlocked
	KindStreamDropped
	KindBroadcastFailure
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "AuthError"
	case KindValidation:
		return "ValidationError"
	case KindRateLimited:
		return "RateLimited"
	case KindTransientRPC:
		return "TransientRPC"
	case KindBrokerRejection:
		return "BrokerRejection"
	case KindPolicyBlocked:
		return "PolicyBlocked"
	case KindStreamDropped:
		return "StreamDropped"
	case KindBroadcastFailure:
		return "BroadcastFailure"
	default:
		return "Unknown"
	}
}

// Error is a categorised error carried on the order/policy paths. Discriminant
// holds the broker-provided error code where one exists (e.g.
// "tif_day_invalid_intersession"); Reason holds the PolicyBlocked skip reason
// (e.g. "daily_limit").
type Error struct {
	kind         Kind
	Discriminant string
	Reason       string
	msg          string
	err          error
}

func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's category. It is the mechanism callers use to
// decide retry/propagate/skip without string-matching messages.
func (e *Error) Kind() Kind { return e.kind }

// KindOf extracts the Kind of err via errors.As, or KindUnknown if err does
// not wrap a *Error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.kind
	}
	return KindUnknown
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Constructors for the fixed discriminants in the policy-gate and
// broker-rejection taxonomy.

func Auth(msg string, err error) *Error {
	return Wrap(KindAuth, msg, err)
}

func Validation(msg string) *Error {
	return New(KindValidation, msg)
}

func RateLimited(msg string) *Error {
	return New(KindRateLimited, msg)
}

func TransientRPC(msg string, err error) *Error {
	return Wrap(KindTransientRPC, msg, err)
}

// BrokerRejection constructs a rejection carrying the broker's discriminant
// code, e.g. "tif_day_invalid_intersession".
func BrokerRejection(discriminant, msg string) *Error {
	return &Error{kind: KindBrokerRejection, Discriminant: discriminant, msg: msg}
}

// PolicyBlocked constructs a skip with one of the fixed reasons: tier_blocked,
// daily_limit, loss_limit, invalid_quantity.
func PolicyBlocked(reason, msg string) *Error {
	return &Error{kind: KindPolicyBlocked, Reason: reason, msg: msg}
}

func StreamDropped(msg string, err error) *Error {
	return Wrap(KindStreamDropped, msg, err)
}

func BroadcastFailure(msg string) *Error {
	return New(KindBroadcastFailure, msg)
}

// TIFDayInvalidIntersession is the broker rejection discriminant that
// triggers OrderQueue's one-shot GTC retry.
const TIFDayInvalidIntersession = "tif_day_invalid_intersession"

// PolicyBlocked reasons, per CopyEngine's strict gate order.
const (
	ReasonTierBlocked     = "tier_blocked"
	ReasonDailyLimit      = "daily_limit"
	ReasonLossLimit       = "loss_limit"
	ReasonInvalidQuantity = "invalid_quantity"
)
