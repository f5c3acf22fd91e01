package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiskit-community/qrmi/internal/util"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestStaticRefresher(t *testing.T) {
	t.Parallel()

	cred, err := (&StaticRefresher{Token: rawToken(`{"exp":1700000060}`)}).Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000060, 0), cred.ExpiresAt)

	cred, err = (&StaticRefresher{Token: "opaque"}).Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, cred.HasExpiry())

	_, err = (&StaticRefresher{}).Refresh(context.Background())
	assert.ErrorIs(t, err, util.ErrCredentialsMissing)

	_, err = (&StaticRefresher{Token: "a.@@@.c"}).Refresh(context.Background())
	assert.ErrorIs(t, err, util.ErrMalformedCredential)
}

func TestBasicAuthRefresher(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "app-id" || pass != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "appid-token", "expires_in": 3600})
	}))
	defer server.Close()

	r := &BasicAuthRefresher{
		Endpoint: server.URL,
		Username: "app-id",
		Password: "secret",
		Client:   server.Client(),
		Now:      fixedClock(now),
	}
	cred, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "appid-token", cred.Token)
	assert.Equal(t, now.Add(time.Hour), cred.ExpiresAt)
	assert.Equal(t, "basic", r.Kind())

	r.Password = "wrong"
	_, err = r.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrAuthenticationFailed)
	assert.Equal(t, http.StatusUnauthorized, util.StatusCodeOf(err))

	_, err = (&BasicAuthRefresher{Endpoint: server.URL}).Refresh(context.Background())
	assert.ErrorIs(t, err, util.ErrCredentialsMissing)
}

func TestAPIKeyRefresher(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, GrantTypeIBMAPIKey, r.PostForm.Get("grant_type"))
		if r.PostForm.Get("apikey") != "good-key" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"errorCode":    "BXNIM0415E",
				"errorMessage": "Provided API key could not be found.",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "iam-token", "expires_in": 1000})
	}))
	defer server.Close()

	r := &APIKeyRefresher{Endpoint: server.URL, APIKey: "good-key", Client: server.Client(), Now: fixedClock(now)}
	cred, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "iam-token", cred.Token)
	assert.Equal(t, now.Add(900*time.Second), cred.ExpiresAt)

	r.APIKey = "bad-key"
	_, err = r.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrAuthenticationFailed)
	assert.Contains(t, err.Error(), "BXNIM0415E")
	assert.NotContains(t, err.Error(), "bad-key")

	_, err = (&APIKeyRefresher{Endpoint: server.URL}).Refresh(context.Background())
	assert.ErrorIs(t, err, util.ErrCredentialsMissing)
}

func TestPasswordRealmRefresher(t *testing.T) {
	t.Parallel()

	exp := time.Unix(1893456000, 0)
	token := signedToken(t, exp)

	var form map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": token, "token_type": "Bearer"})
	}))
	defer server.Close()

	r := &PasswordRealmRefresher{
		Endpoint: server.URL,
		Username: "alice@example.com",
		Password: "pw",
		Client:   server.Client(),
	}
	cred, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, cred.Token)
	assert.True(t, cred.ExpiresAt.Equal(exp))

	assert.Equal(t, map[string]string{
		"grant_type": GrantTypePasswordRealm,
		"realm":      PasqalRealm,
		"client_id":  PasqalClientID,
		"audience":   PasqalAudience,
		"username":   "alice@example.com",
		"password":   "pw",
	}, form)
}

func TestExchange_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"missing access token", http.StatusOK, `{"expires_in":10}`, util.ErrAuthenticationFailed},
		{"forbidden", http.StatusForbidden, `denied`, util.ErrAuthenticationFailed},
		{"bad expires_in", http.StatusOK, `{"access_token":"x","expires_in":"later"}`, nil},
		{"not json", http.StatusOK, `<html>`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			r := &APIKeyRefresher{Endpoint: server.URL, APIKey: "k", Client: server.Client()}
			_, err := r.Refresh(context.Background())
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
