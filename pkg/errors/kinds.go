// Package errors provides typed errors for the exchange connector.
package errors

import "errors"

// Kind identifies an error's position in the exchange error taxonomy.
// Kinds form a tree rooted at KindExchangeError; a child kind is
// substitutable for any of its ancestors (see IsKind).
type Kind string

const (
	KindExchangeError        Kind = "exchange_error"
	KindAuthentication       Kind = "authentication_error"
	KindPermissionDenied     Kind = "permission_denied"
	KindAccountNotEnabled    Kind = "account_not_enabled"
	KindInvalidOrder         Kind = "invalid_order"
	KindOrderNotFound        Kind = "order_not_found"
	KindInsufficientFunds    Kind = "insufficient_funds"
	KindBadSymbol            Kind = "bad_symbol"
	KindBadRequest           Kind = "bad_request"
	KindRateLimitExceeded    Kind = "rate_limit_exceeded"
	KindExchangeNotAvailable Kind = "exchange_not_available"
	KindNetworkError         Kind = "network_error"
	KindRequestTimeout       Kind = "request_timeout"
)

// parentKind maps a kind to its immediate parent. Kinds absent from this
// map have no parent other than the implicit root, KindExchangeError
// itself (which has no parent at all).
var parentKind = map[Kind]Kind{
	KindAuthentication:       KindExchangeError,
	KindPermissionDenied:     KindAuthentication,
	KindAccountNotEnabled:    KindAuthentication,
	KindInvalidOrder:         KindExchangeError,
	KindOrderNotFound:        KindExchangeError,
	KindInsufficientFunds:    KindExchangeError,
	KindBadSymbol:            KindExchangeError,
	KindBadRequest:           KindExchangeError,
	KindRateLimitExceeded:    KindExchangeError,
	KindExchangeNotAvailable: KindExchangeError,
	KindNetworkError:         KindExchangeError,
	KindRequestTimeout:       KindNetworkError,
}

// Kinded is implemented by every error type in this taxonomy.
type Kinded interface {
	ErrorKind() Kind
}

// IsKind reports whether err (or anything it wraps) belongs to kind, or to
// any kind descended from it. RequestTimeout IsKind NetworkError IsKind
// ExchangeError, for instance.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if k, ok := err.(Kinded); ok {
			if kindMatches(k.ErrorKind(), kind) {
				return true
			}
		}
		err = errors.Unwrap(err)
	}
	return false
}

func kindMatches(have, want Kind) bool {
	for {
		if have == want {
			return true
		}
		parent, ok := parentKind[have]
		if !ok {
			return false
		}
		have = parent
	}
}
