package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	if idToken != "good" {
		return nil, errors.New("invalid")
	}
	return &auth.Token{UID: "user-1"}, nil
}

func (tokenVerifier) VerifySessionCookie(ctx context.Context, cookie string) (*auth.Token, error) {
	return nil, errors.New("unused")
}

func (tokenVerifier) SessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error) {
	return "session-" + idToken, nil
}

func TestHandleLogin(t *testing.T) {
	h := NewAuthHandler(tokenVerifier{}, true)
	e := echo.New()

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer good", http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"bad format", "good", http.StatusUnauthorized},
		{"bad token", "Bearer bad", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			require.NoError(t, h.HandleLogin(e.NewContext(req, rec)))

			assert.Equal(t, tt.status, rec.Code)
			cookies := rec.Result().Cookies()
			if tt.status == http.StatusOK {
				require.Len(t, cookies, 1)
				assert.Equal(t, "session-good", cookies[0].Value)
				assert.True(t, cookies[0].Secure)
				assert.True(t, cookies[0].HttpOnly)
			} else {
				assert.Empty(t, cookies)
			}
		})
	}
}

func TestHandleLoginWithoutFirebase(t *testing.T) {
	h := NewAuthHandler(nil, false)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()

	require.NoError(t, h.HandleLogin(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleLogout(t *testing.T) {
	h := NewAuthHandler(tokenVerifier{}, false)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, h.HandleLogout(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)
	assert.Less(t, cookies[0].MaxAge, 0)
}
