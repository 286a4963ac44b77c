package tokens

import "errors"

// Kind classifies a token failure so the HTTP boundary can pick a status.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindInvalidToken means the identity provider rejected the bearer token.
	KindInvalidToken
	// KindUpstreamUnavailable means the identity provider could not be reached
	// or answered with something unusable.
	KindUpstreamUnavailable
	// KindInvalidOrConsumedToken covers unknown, already consumed and expired
	// ephemeral tokens alike.
	KindInvalidOrConsumedToken
	// KindIssuanceFailed means a verified caller could not be issued a token.
	KindIssuanceFailed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidToken:
		return "invalid token"
	case KindUpstreamUnavailable:
		return "identity provider unavailable"
	case KindInvalidOrConsumedToken:
		return "token consumed, or not found, or expired"
	case KindIssuanceFailed:
		return "token issuance failed"
	default:
		return "unknown error"
	}
}

// Error is the error type returned by the token service and the verifier.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrInvalidToken)
// holds regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidToken           = &Error{Kind: KindInvalidToken}
	ErrUpstreamUnavailable    = &Error{Kind: KindUpstreamUnavailable}
	ErrInvalidOrConsumedToken = &Error{Kind: KindInvalidOrConsumedToken}
	ErrIssuanceFailed         = &Error{Kind: KindIssuanceFailed}
)

// E builds an *Error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
