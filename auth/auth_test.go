package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func protected(v *Verifier, got *uuid.UUID) http.Handler {
	return v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, err := UserID(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		*got = uid
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	v := NewVerifier("secret")
	userID := uuid.New()
	token, err := TokenFor(userID, "secret", time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	var got uuid.UUID
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected(v, &got).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got != userID {
		t.Fatalf("context user = %s, want %s", got, userID)
	}
}

func TestMiddlewareRejections(t *testing.T) {
	v := NewVerifier("secret")
	expired, err := TokenFor(uuid.New(), "secret", -time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	wrongKey, err := TokenFor(uuid.New(), "other-secret", time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Basic abc123",
		"garbage token":  "Bearer not.a.jwt",
		"expired":        "Bearer " + expired,
		"wrong key":      "Bearer " + wrongKey,
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		var got uuid.UUID
		protected(v, &got).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, rec.Code)
		}
	}
}

func TestUserIDWithoutIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := UserID(req.Context()); err == nil {
		t.Fatal("expected ErrNoIdentity for bare context")
	}
}
