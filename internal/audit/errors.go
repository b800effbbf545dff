package audit

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSynthesisInvariant marks a structural impossibility at the
	// synthesis boundary, the only failure that terminates a run
	// without a report.
	ErrSynthesisInvariant = errors.New("audit: synthesis invariant violation")

	// ErrRetryExhausted records that opinions were still invalid after
	// the retry budget. It degrades the run; it never aborts it.
	ErrRetryExhausted = errors.New("audit: opinion retries exhausted")
)

// CollectionError wraps an analysis agent failure. It is always
// captured at the node boundary and converted to an error finding,
// never re-raised past its step.
type CollectionError struct {
	Agent string
	Err   error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collection failed in %s: %v", e.Agent, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// ValidationError reports why an opinion failed schema validation.
// It drives the bounded retry of the producing persona.
type ValidationError struct {
	Persona  string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("opinion from %s invalid: %s", e.Persona, strings.Join(e.Problems, "; "))
}
