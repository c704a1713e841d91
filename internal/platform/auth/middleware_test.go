package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/fhirstack/fhirstack/internal/repo"
)

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testKey)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func newTestHandler(t *testing.T, captured **repo.Requester) echo.HandlerFunc {
	return func(c echo.Context) error {
		*captured = repo.RequesterFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	}
}

func doRequest(t *testing.T, authHeader string, captured **repo.Requester) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	mw := Middleware(JWTConfig{SigningKey: testKey}, nil)
	handler := mw(newTestHandler(t, captured))

	req := httptest.NewRequest(http.MethodGet, "/fhir/R4/Patient", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func TestMiddlewareValidToken(t *testing.T) {
	var captured *repo.Requester
	token := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ProjectID: "proj1",
		Profile:   "Practitioner/dr1",
		Admin:     true,
	})

	rec := doRequest(t, "Bearer "+token, &captured)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured == nil {
		t.Fatal("requester not attached to context")
	}
	if captured.Author.Reference != "Practitioner/dr1" || captured.ProjectID != "proj1" || !captured.Admin {
		t.Errorf("unexpected requester: %+v", captured)
	}
}

func TestMiddlewareRejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured *repo.Requester
			rec := doRequest(t, tt.header, &captured)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
			if captured != nil {
				t.Error("handler must not run")
			}
		})
	}
}

func TestMiddlewareRequiresProject(t *testing.T) {
	var captured *repo.Requester
	token := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Profile: "Practitioner/dr1",
	})
	rec := doRequest(t, "Bearer "+token, &captured)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("non-privileged token without project must be rejected, got %d", rec.Code)
	}
}

func TestMiddlewarePrivilegedWithoutProject(t *testing.T) {
	var captured *repo.Requester
	token := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Profile:    "system",
		Privileged: true,
	})
	rec := doRequest(t, "Bearer "+token, &captured)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if captured == nil || !captured.Privileged {
		t.Errorf("expected privileged requester, got %+v", captured)
	}
}
