package fhir

import (
	"errors"
	"fmt"
	"net/http"
)

// OperationOutcome severity levels per FHIR R4 spec.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes per FHIR R4 spec.
const (
	IssueTypeInvalid      = "invalid"
	IssueTypeStructure    = "structure"
	IssueTypeRequired     = "required"
	IssueTypeValue        = "value"
	IssueTypeNotFound     = "not-found"
	IssueTypeConflict     = "conflict"
	IssueTypeProcessing   = "processing"
	IssueTypeSecurity     = "security"
	IssueTypeForbidden    = "forbidden"
	IssueTypeLogin        = "login"
	IssueTypeThrottled    = "throttled"
	IssueTypeNotSupported = "not-supported"
	IssueTypeException    = "exception"
	IssueTypeTimeout      = "timeout"
	IssueTypeDuplicate    = "duplicate"
	IssueTypeDeleted      = "deleted"
)

// OperationOutcome represents a FHIR OperationOutcome.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

// HasErrors returns true if the outcome contains any error or fatal issues.
func (o *OperationOutcome) HasErrors() bool {
	for _, issue := range o.Issue {
		if issue.Severity == IssueSeverityError || issue.Severity == IssueSeverityFatal {
			return true
		}
	}
	return false
}

// OutcomeError carries an OperationOutcome across the repository API
// boundary as a Go error. All repository-level failures are shaped this
// way; collaborators never see bare SQL or validation errors.
type OutcomeError struct {
	Outcome *OperationOutcome
}

func (e *OutcomeError) Error() string {
	if e.Outcome == nil || len(e.Outcome.Issue) == 0 {
		return "operation outcome"
	}
	issue := e.Outcome.Issue[0]
	return fmt.Sprintf("%s: %s", issue.Code, issue.Diagnostics)
}

// IssueCode returns the first issue code of the outcome, or "".
func (e *OutcomeError) IssueCode() string {
	if e.Outcome == nil || len(e.Outcome.Issue) == 0 {
		return ""
	}
	return e.Outcome.Issue[0].Code
}

// ErrorNotFound creates a not-found outcome error for a resource identity.
func ErrorNotFound(resourceType, id string) *OutcomeError {
	return &OutcomeError{Outcome: NewOperationOutcome(
		IssueSeverityError, IssueTypeNotFound,
		fmt.Sprintf("%s/%s not found", resourceType, id),
	)}
}

// ErrorGone creates a deleted outcome error including the tombstone time.
func ErrorGone(resourceType, id, deletedOn string) *OutcomeError {
	return &OutcomeError{Outcome: NewOperationOutcome(
		IssueSeverityError, IssueTypeDeleted,
		fmt.Sprintf("%s/%s has been deleted. Deleted on %s", resourceType, id, deletedOn),
	)}
}

// ErrorInvalid creates an invalid outcome error for parameter or value
// failures, including authorization parameter errors.
func ErrorInvalid(diagnostics string) *OutcomeError {
	return &OutcomeError{Outcome: NewOperationOutcome(
		IssueSeverityError, IssueTypeInvalid, diagnostics,
	)}
}

// ErrorStructure creates a structure outcome error for schema or shape
// validation failures.
func ErrorStructure(diagnostics string) *OutcomeError {
	return &OutcomeError{Outcome: NewOperationOutcome(
		IssueSeverityError, IssueTypeStructure, diagnostics,
	)}
}

// ErrorForbidden creates a forbidden outcome error for access policy or
// compartment violations.
func ErrorForbidden(diagnostics string) *OutcomeError {
	return &OutcomeError{Outcome: NewOperationOutcome(
		IssueSeverityError, IssueTypeForbidden, diagnostics,
	)}
}

// ErrorUnauthorized creates a login outcome error for requests without a
// resolvable identity.
func ErrorUnauthorized(diagnostics string) *OutcomeError {
	return &OutcomeError{Outcome: NewOperationOutcome(
		IssueSeverityError, IssueTypeLogin, diagnostics,
	)}
}

// ErrorTooManyVersions creates a throttled outcome error for the version
// cap. Further writes to the resource are rejected, not pruned.
func ErrorTooManyVersions(resourceType, id string) *OutcomeError {
	return &OutcomeError{Outcome: NewOperationOutcome(
		IssueSeverityError, IssueTypeThrottled,
		fmt.Sprintf("too many versions for %s/%s", resourceType, id),
	)}
}

// ErrorConflict creates a conflict outcome error, used for serialization
// failures between concurrent transactions.
func ErrorConflict(diagnostics string) *OutcomeError {
	return &OutcomeError{Outcome: NewOperationOutcome(
		IssueSeverityError, IssueTypeConflict, diagnostics,
	)}
}

// AsOutcomeError extracts an OutcomeError from err, or nil.
func AsOutcomeError(err error) *OutcomeError {
	var oe *OutcomeError
	if errors.As(err, &oe) {
		return oe
	}
	return nil
}

// IsNotFound reports whether err is a not-found outcome error.
func IsNotFound(err error) bool {
	oe := AsOutcomeError(err)
	return oe != nil && oe.IssueCode() == IssueTypeNotFound
}

// IsGone reports whether err is a deleted outcome error.
func IsGone(err error) bool {
	oe := AsOutcomeError(err)
	return oe != nil && oe.IssueCode() == IssueTypeDeleted
}

// StatusForError maps an error to the HTTP status its outcome implies.
// Unshaped errors map to 500.
func StatusForError(err error) int {
	oe := AsOutcomeError(err)
	if oe == nil {
		return http.StatusInternalServerError
	}
	switch oe.IssueCode() {
	case IssueTypeNotFound:
		return http.StatusNotFound
	case IssueTypeDeleted:
		return http.StatusGone
	case IssueTypeForbidden, IssueTypeSecurity:
		return http.StatusForbidden
	case IssueTypeLogin:
		return http.StatusUnauthorized
	case IssueTypeThrottled:
		return http.StatusTooManyRequests
	case IssueTypeConflict:
		return http.StatusConflict
	case IssueTypeTimeout:
		return http.StatusGatewayTimeout
	case IssueTypeInvalid, IssueTypeStructure, IssueTypeRequired, IssueTypeValue:
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

// OutcomeForError returns the OperationOutcome body for an error, shaping
// unexpected errors as a generic exception outcome.
func OutcomeForError(err error) *OperationOutcome {
	if oe := AsOutcomeError(err); oe != nil {
		return oe.Outcome
	}
	return NewOperationOutcome(IssueSeverityFatal, IssueTypeException, err.Error())
}
