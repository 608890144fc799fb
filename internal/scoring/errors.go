package scoring

import "errors"

var (
	// ErrAnswerKeyNotFound means no single active key exists for an exam version.
	ErrAnswerKeyNotFound = errors.New("answer key not found")
	// ErrMalformedAnswerSet means recognized answers violate the answer-set schema.
	ErrMalformedAnswerSet = errors.New("malformed answer set")
	// ErrMalformedAnswerKey means an answer key violates the key schema.
	ErrMalformedAnswerKey = errors.New("malformed answer key")
)
