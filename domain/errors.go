package domain

import (
	"errors"
	"fmt"
)

// Kind classifies business-rule failures so callers can branch on them.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindUpstream
	KindConflict
	KindDenied
	KindValidation
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindUpstream:
		return "upstream-error"
	case KindConflict:
		return "conflict"
	case KindDenied:
		return "denied"
	case KindValidation:
		return "validation"
	case KindInvariant:
		return "invariant"
	}
	return "internal"
}

// Tags refine a Kind where the caller must tell failures apart.
const (
	TagUpstream      = "upstream-error"
	TagNotAPost      = "not-a-post"
	TagMissingAuthor = "missing-author"
	TagBlocked       = "blocked"
)

type Error struct {
	Kind Kind
	Tag  string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithTag returns a copy of e carrying tag.
func (e *Error) WithTag(tag string) *Error {
	c := *e
	c.Tag = tag
	return &c
}

// Wrap attaches an underlying cause.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

func newError(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error   { return newError(KindNotFound, format, args...) }
func Upstream(format string, args ...any) *Error   { return newError(KindUpstream, format, args...) }
func Conflict(format string, args ...any) *Error   { return newError(KindConflict, format, args...) }
func Denied(format string, args ...any) *Error     { return newError(KindDenied, format, args...) }
func Validation(format string, args ...any) *Error { return newError(KindValidation, format, args...) }
func Invariant(format string, args ...any) *Error  { return newError(KindInvariant, format, args...) }

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// TagOf returns the tag of the first *Error in err's chain.
func TagOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Tag
	}
	return ""
}
