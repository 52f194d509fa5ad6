// Package llm provides an OpenAI-compatible implementation of the
// chat.LLMClient interface (GenerateBuffer, RelevanceCheck) the Orchestrator
// depends on, and the bounded retry wrapper around it.
package llm

import (
	"errors"
	"fmt"
)

// Sentinel errors callers can match with errors.Is, per spec §4.4/§7.
var (
	// ErrBackendUnavailable is retryable: a transient network or upstream
	// outage.
	ErrBackendUnavailable = errors.New("llm: backend unavailable")

	// ErrBackendRefused is fatal for the call: content-policy block.
	ErrBackendRefused = errors.New("llm: backend refused request")

	// ErrBadResponse is fatal for the call: malformed, non-JSON, or
	// schema-invalid output. Never retried.
	ErrBadResponse = errors.New("llm: malformed response")
)

// Class categorizes an LLM error for retry decisions, distinguishing
// transient from permanent failures.
type Class int

const (
	ClassTransient Class = iota
	ClassPermanent
)

// ClassifiedError wraps an LLM call failure with its retry classification.
type ClassifiedError struct {
	Class Class
	Err   error
}

func (c *ClassifiedError) Error() string {
	return fmt.Sprintf("%v", c.Err)
}

func (c *ClassifiedError) Unwrap() error { return c.Err }

// IsTransient reports whether the error warrants a retry.
func (c *ClassifiedError) IsTransient() bool { return c.Class == ClassTransient }

// Classify maps a raw error onto the three named failure modes.
func Classify(err error) *ClassifiedError {
	switch {
	case errors.Is(err, ErrBackendUnavailable):
		return &ClassifiedError{Class: ClassTransient, Err: err}
	case errors.Is(err, ErrBackendRefused), errors.Is(err, ErrBadResponse):
		return &ClassifiedError{Class: ClassPermanent, Err: err}
	default:
		return &ClassifiedError{Class: ClassPermanent, Err: err}
	}
}

// ErrFailed wraps whatever GenerateBuffer ultimately returns once its
// retries (if any) are exhausted, so callers can errors.Is against a single
// sentinel for "generation failed" without caring which of the three
// underlying causes it was (spec §7: "LLMFailed"). The original cause is
// still reachable via errors.Is/As on the same error.
var ErrFailed = errors.New("llm: generation failed")
