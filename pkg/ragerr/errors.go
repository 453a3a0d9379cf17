// Package ragerr defines the error taxonomy shared by every pipeline stage.
package ragerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindFetch Kind = iota + 1
	KindEmbedding
	KindQuery
	KindGeneration
)

func (k Kind) String() string {
	switch k {
	case KindFetch:
		return "fetch"
	case KindEmbedding:
		return "embedding"
	case KindQuery:
		return "query"
	case KindGeneration:
		return "generation"
	default:
		return "unknown"
	}
}

// Error is a stage failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against the kind sentinels, so
// errors.Is(err, ErrFetch) holds for every fetch failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrFetch      = &Error{Kind: KindFetch}
	ErrEmbedding  = &Error{Kind: KindEmbedding}
	ErrQuery      = &Error{Kind: KindQuery}
	ErrGeneration = &Error{Kind: KindGeneration}
)

var (
	ErrEmptyStore         = errors.New("vector store is empty")
	ErrUnsupportedContent = errors.New("unsupported content type")
	ErrUnauthorized       = errors.New("generation service rejected credentials")
	ErrRateLimited        = errors.New("generation service rate limit exceeded")
	ErrStaleHandle        = errors.New("session handle is no longer current")
)

func Fetch(op string, err error) error {
	return &Error{Kind: KindFetch, Op: op, Err: err}
}

func Embedding(op string, err error) error {
	return &Error{Kind: KindEmbedding, Op: op, Err: err}
}

func Query(op string, err error) error {
	return &Error{Kind: KindQuery, Op: op, Err: err}
}

func Generation(op string, err error) error {
	return &Error{Kind: KindGeneration, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
