package credential

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/qiskit-community/qrmi/internal/util"
)

// Grant and Auth0 constants used by the built-in refreshers.
const (
	// GrantTypeIBMAPIKey is the IBM Cloud IAM apikey grant.
	GrantTypeIBMAPIKey = "urn:ibm:params:oauth:grant-type:apikey"

	// GrantTypePasswordRealm is the Auth0 password-realm grant.
	GrantTypePasswordRealm = "http://auth0.com/oauth/grant-type/password-realm"

	// PasqalRealm is the Auth0 realm of Pasqal Cloud users.
	PasqalRealm = "pcs-users"

	// PasqalClientID is the public Auth0 client id of Pasqal Cloud.
	PasqalClientID = "PeZvo7Atx7IVv3iel59asJSb4Ig7vuSB"

	// PasqalAudience is the audience of Pasqal Cloud access tokens.
	PasqalAudience = "https://apis.pasqal.cloud/account/api/v1"

	// PasqalAuthEndpoint is the default Pasqal token endpoint.
	PasqalAuthEndpoint = "authenticate.pasqal.cloud/oauth/token"

	// IAMExpiryMargin is the share of expires_in trusted for IBM IAM tokens.
	IAMExpiryMargin = 0.9

	// maxTokenResponseBytes bounds token endpoint responses.
	maxTokenResponseBytes = 1 << 20
)

// HTTPDoer sends HTTP requests. *http.Client and the transient retry
// client of the request pipeline both satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Refresher exchanges long-lived secrets for a short-lived credential.
type Refresher interface {
	// Refresh performs one exchange.
	Refresh(ctx context.Context) (Credential, error)
	// Kind names the exchange for logs and metrics.
	Kind() string
}

// tokenResponse is the common shape of token endpoint responses.
type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   json.RawMessage `json:"expires_in,omitempty"`
	TokenType   string          `json:"token_type,omitempty"`
}

// iamErrorResponse is the IBM Cloud IAM error body.
type iamErrorResponse struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	ErrorDetails string `json:"errorDetails,omitempty"`
}

// StaticRefresher returns a fixed token. Its expiry, if any, is read from
// the token itself.
type StaticRefresher struct {
	Token string
}

// Refresh implements Refresher.
func (r *StaticRefresher) Refresh(_ context.Context) (Credential, error) {
	if r.Token == "" {
		return Credential{}, fmt.Errorf("%w: no static token configured", util.ErrCredentialsMissing)
	}
	expiry, err := ExpiryTime(r.Token)
	if err != nil {
		return Credential{}, err
	}
	return Credential{Token: r.Token, ExpiresAt: expiry}, nil
}

// Kind implements Refresher.
func (r *StaticRefresher) Kind() string {
	return "static"
}

// BasicAuthRefresher obtains a token by posting basic-auth credentials,
// as IBM Cloud App ID does.
type BasicAuthRefresher struct {
	Endpoint string
	Username string
	Password string
	Client   HTTPDoer
	Now      func() time.Time
}

// Refresh implements Refresher.
func (r *BasicAuthRefresher) Refresh(ctx context.Context) (Credential, error) {
	if r.Username == "" || r.Password == "" {
		return Credential{}, fmt.Errorf("%w: username and password are required", util.ErrCredentialsMissing)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, http.NoBody)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to create token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(r.Username + ":" + r.Password))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	return exchange(r.Client, req, r.Kind(), 1.0, nowFunc(r.Now))
}

// Kind implements Refresher.
func (r *BasicAuthRefresher) Kind() string {
	return "basic"
}

// APIKeyRefresher exchanges an API key through the IBM Cloud IAM apikey
// grant. Only Margin of the announced lifetime is trusted.
type APIKeyRefresher struct {
	Endpoint  string
	APIKey    string
	GrantType string
	Margin    float64
	Client    HTTPDoer
	Now       func() time.Time
}

// Refresh implements Refresher.
func (r *APIKeyRefresher) Refresh(ctx context.Context) (Credential, error) {
	if r.APIKey == "" {
		return Credential{}, fmt.Errorf("%w: api key is required", util.ErrCredentialsMissing)
	}

	grantType := r.GrantType
	if grantType == "" {
		grantType = GrantTypeIBMAPIKey
	}
	margin := r.Margin
	if margin <= 0 || margin > 1 {
		margin = IAMExpiryMargin
	}

	form := url.Values{}
	form.Set("grant_type", grantType)
	form.Set("apikey", r.APIKey)

	req, err := newFormRequest(ctx, r.Endpoint, form)
	if err != nil {
		return Credential{}, err
	}
	return exchange(r.Client, req, r.Kind(), margin, nowFunc(r.Now))
}

// Kind implements Refresher.
func (r *APIKeyRefresher) Kind() string {
	return "apikey"
}

// PasswordRealmRefresher performs an Auth0 password-realm exchange.
// Empty fields default to the Pasqal Cloud values.
type PasswordRealmRefresher struct {
	Endpoint string
	Username string
	Password string
	Realm    string
	ClientID string
	Audience string
	Client   HTTPDoer
	Now      func() time.Time
}

// Refresh implements Refresher.
func (r *PasswordRealmRefresher) Refresh(ctx context.Context) (Credential, error) {
	if r.Username == "" || r.Password == "" {
		return Credential{}, fmt.Errorf("%w: username and password are required", util.ErrCredentialsMissing)
	}

	form := url.Values{}
	form.Set("grant_type", GrantTypePasswordRealm)
	form.Set("realm", orDefault(r.Realm, PasqalRealm))
	form.Set("client_id", orDefault(r.ClientID, PasqalClientID))
	form.Set("audience", orDefault(r.Audience, PasqalAudience))
	form.Set("username", r.Username)
	form.Set("password", r.Password)

	endpoint := util.EnsureScheme(orDefault(r.Endpoint, PasqalAuthEndpoint))
	req, err := newFormRequest(ctx, endpoint, form)
	if err != nil {
		return Credential{}, err
	}
	return exchange(r.Client, req, r.Kind(), 1.0, nowFunc(r.Now))
}

// Kind implements Refresher.
func (r *PasswordRealmRefresher) Kind() string {
	return "password_realm"
}

func newFormRequest(ctx context.Context, endpoint string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// exchange sends a token request and decodes {access_token, expires_in}.
// Without expires_in the expiry falls back to the token's exp claim.
func exchange(client HTTPDoer, req *http.Request, kind string, margin float64, now func() time.Time) (Credential, error) {
	if client == nil {
		client = http.DefaultClient
	}

	issuedAt := now()
	resp, err := client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("%s token request failed: %w", kind, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return Credential{}, fmt.Errorf("failed to read %s token response: %w", kind, err)
	}

	if resp.StatusCode != http.StatusOK {
		return Credential{}, util.NewProviderErrorWithCause(kind, "token", resp.StatusCode,
			describeTokenError(body), util.ErrAuthenticationFailed)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Credential{}, fmt.Errorf("failed to decode %s token response: %w", kind, err)
	}
	if tr.AccessToken == "" {
		return Credential{}, fmt.Errorf("%w: %s token response has no access_token", util.ErrAuthenticationFailed, kind)
	}

	cred := Credential{Token: tr.AccessToken}
	if len(tr.ExpiresIn) > 0 && string(tr.ExpiresIn) != "null" {
		seconds, _, err := parseNumericClaim(tr.ExpiresIn)
		if err != nil {
			return Credential{}, fmt.Errorf("invalid expires_in in %s token response: %w", kind, err)
		}
		lifetime := time.Duration(float64(seconds)*margin) * time.Second
		cred.ExpiresAt = issuedAt.Add(lifetime)
		return cred, nil
	}

	expiry, err := ExpiryTime(tr.AccessToken)
	if err != nil {
		return Credential{}, err
	}
	cred.ExpiresAt = expiry
	return cred, nil
}

// describeTokenError extracts the IAM error message when present so the
// caller sees the reason without the raw body.
func describeTokenError(body []byte) string {
	var iamErr iamErrorResponse
	if err := json.Unmarshal(body, &iamErr); err == nil && iamErr.ErrorCode != "" {
		reason := iamErr.ErrorMessage
		if iamErr.ErrorDetails != "" {
			reason = iamErr.ErrorDetails
		}
		return fmt.Sprintf("%s (%s)", reason, iamErr.ErrorCode)
	}
	return strings.TrimSpace(string(body))
}

func nowFunc(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

var (
	_ Refresher = (*StaticRefresher)(nil)
	_ Refresher = (*BasicAuthRefresher)(nil)
	_ Refresher = (*APIKeyRefresher)(nil)
	_ Refresher = (*PasswordRealmRefresher)(nil)
)
