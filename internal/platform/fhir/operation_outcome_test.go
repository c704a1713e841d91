package fhir

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", ErrorNotFound("Patient", "x"), http.StatusNotFound},
		{"gone", ErrorGone("Patient", "x", "2024-01-01T00:00:00Z"), http.StatusGone},
		{"invalid", ErrorInvalid("bad parameter"), http.StatusBadRequest},
		{"structure", ErrorStructure("unexpected property"), http.StatusBadRequest},
		{"forbidden", ErrorForbidden("access denied"), http.StatusForbidden},
		{"unauthorized", ErrorUnauthorized("no identity"), http.StatusUnauthorized},
		{"version cap", ErrorTooManyVersions("Patient", "x"), http.StatusTooManyRequests},
		{"conflict", ErrorConflict("serialization failure"), http.StatusConflict},
		{"unshaped", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusForError(tc.err); got != tc.want {
				t.Errorf("StatusForError = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestStatusForWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("reading resource: %w", ErrorNotFound("Patient", "p1"))
	if got := StatusForError(wrapped); got != http.StatusNotFound {
		t.Errorf("wrapped outcome error should map to 404, got %d", got)
	}
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should see through wrapping")
	}
}

func TestOutcomeForError(t *testing.T) {
	t.Run("outcome errors pass through", func(t *testing.T) {
		oo := OutcomeForError(ErrorGone("Patient", "p1", "2024-01-01T00:00:00Z"))
		if oo.Issue[0].Code != IssueTypeDeleted {
			t.Errorf("expected deleted issue, got %s", oo.Issue[0].Code)
		}
	})

	t.Run("unshaped errors become exception outcomes", func(t *testing.T) {
		oo := OutcomeForError(errors.New("database on fire"))
		if oo.Issue[0].Code != IssueTypeException {
			t.Errorf("expected exception issue, got %s", oo.Issue[0].Code)
		}
		if oo.Issue[0].Severity != IssueSeverityFatal {
			t.Errorf("expected fatal severity, got %s", oo.Issue[0].Severity)
		}
	})
}

func TestGoneOutcomeText(t *testing.T) {
	err := ErrorGone("Observation", "o1", "2024-06-01T12:00:00Z")
	diag := err.Outcome.Issue[0].Diagnostics
	if want := "Deleted on 2024-06-01T12:00:00Z"; !strings.Contains(diag, want) {
		t.Errorf("tombstone diagnostics %q should contain %q", diag, want)
	}
}
