package leads

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("lead not found")
	ErrDuplicateTicket = errors.New("ticket id already in use")

	// ErrTicketSequenceExhausted means a single day allocated all 9999 ticket numbers.
	ErrTicketSequenceExhausted = errors.New("ticket sequence exhausted for day")
)

// FieldError describes one rejected payload field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports a payload that is missing or carries invalid fields.
// Nothing has been written when it is returned.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func invalidField(field, msg string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: msg}}}
}

// StageMismatchError is returned when a handler acts on a lead that is not in
// the stage the handler requires. It is meant to be shown to the end user.
type StageMismatchError struct {
	TicketID      string `json:"ticket_id"`
	CurrentStage  Stage  `json:"current_stage"`
	ExpectedStage Stage  `json:"expected_stage"`
	Guidance      string `json:"guidance"`
}

func (e *StageMismatchError) Error() string {
	return fmt.Sprintf("stage mismatch for %s: current %s, expected %s", e.TicketID, e.CurrentStage, e.ExpectedStage)
}

// Message renders the user-facing sentence.
func (e *StageMismatchError) Message() string {
	return fmt.Sprintf("Ticket %s is at %s; this action requires %s; %s.",
		e.TicketID, e.CurrentStage.Label(), e.ExpectedStage.Label(), e.Guidance)
}

// TransactionError wraps a storage or transaction failure.
// No partial state survives it, so callers may retry.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return "leads: " + e.Op + ": " + e.Err.Error()
}

func (e *TransactionError) Unwrap() error { return e.Err }

// asDomainError leaves domain errors untouched and wraps everything else.
func asDomainError(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		se *StageMismatchError
		te *TransactionError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &se), errors.As(err, &te):
		return err
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicateTicket):
		return err
	}
	return &TransactionError{Op: op, Err: err}
}
