package api

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestValidateToken(t *testing.T) {
	valid, err := IssueToken(testSecret, "operator", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	expired, err := IssueToken(testSecret, "operator", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing foreign token: %v", err)
	}
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer: tokenIssuer,
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token without exp: %v", err)
	}

	tests := []struct {
		name    string
		secret  string
		token   string
		wantErr bool
	}{
		{"valid", testSecret, valid, false},
		{"wrong secret", "another-secret-that-is-long-enough!!", valid, true},
		{"expired", testSecret, expired, true},
		{"alg none", testSecret, unsigned, true},
		{"foreign issuer", testSecret, foreign, true},
		{"no expiry", testSecret, noExpiry, true},
		{"garbage", testSecret, "not.a.token", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, err := ValidateToken(tt.secret, tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidToken) {
					t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateToken() error = %v", err)
			}
			if subject != "operator" {
				t.Errorf("subject = %q, want operator", subject)
			}
		})
	}
}

func TestIssueToken_EmptySecret(t *testing.T) {
	if _, err := IssueToken("", "x", time.Minute); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("IssueToken(\"\") error = %v, want ErrInvalidToken", err)
	}
}

func TestRequireBearer(t *testing.T) {
	srv := testServer(t, withJWT())
	router := srv.buildRouter()

	token, err := IssueToken(testSecret, "operator", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	tests := []struct {
		name     string
		path     string
		header   []string
		wantCode int
	}{
		{"health is open", "/api/v1/health", nil, http.StatusOK},
		{"missing token", "/api/v1/timeline", nil, http.StatusUnauthorized},
		{"wrong scheme", "/api/v1/timeline", []string{"Authorization", "Basic abc"}, http.StatusUnauthorized},
		{"bad token", "/api/v1/timeline", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"valid token", "/api/v1/timeline", []string{"Authorization", "Bearer " + token}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, router, http.MethodGet, tt.path, "", tt.header...); w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d; body %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

func TestAuthDisabled_AllowsAnonymous(t *testing.T) {
	srv := testServer(t)
	if w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/timeline", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", w.Code)
	}
}

func TestWSTicket_SingleUse(t *testing.T) {
	srv := testServer(t, withJWT())
	token, err := IssueToken(testSecret, "operator", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/auth/ws-ticket", "", "Authorization", "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	ticket, ok := decode(t, w)["ticket"].(string)
	if !ok || ticket == "" {
		t.Fatal("expected ticket to be a non-empty string")
	}

	entry, ok := srv.tickets.consume(ticket)
	if !ok {
		t.Fatal("ticket should be valid on first use")
	}
	if entry.subject != "operator" {
		t.Errorf("ticket subject = %q, want operator", entry.subject)
	}
	if _, ok := srv.tickets.consume(ticket); ok {
		t.Error("ticket should not be valid on second use")
	}
}

func TestWSTicket_Expiry(t *testing.T) {
	ts := newTicketStore()
	ticket := generateTicket()
	ts.tickets[ticket] = ticketEntry{expiresAt: time.Now().Add(-time.Second)}

	if _, ok := ts.consume(ticket); ok {
		t.Error("expired ticket should not be valid")
	}

	ts.tickets["stale"] = ticketEntry{expiresAt: time.Now().Add(-time.Second)}
	ts.tickets["fresh"] = ticketEntry{expiresAt: time.Now().Add(time.Minute)}
	ts.cleanExpired()
	if _, ok := ts.tickets["stale"]; ok {
		t.Error("cleanExpired kept a stale ticket")
	}
	if _, ok := ts.tickets["fresh"]; !ok {
		t.Error("cleanExpired removed a fresh ticket")
	}
}
