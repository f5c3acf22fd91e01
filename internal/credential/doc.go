// Package credential manages short-lived bearer credentials.
//
// A Store owns the credential of one identity. GetToken returns the stored
// token while it stays usable and otherwise runs the configured Refresher.
// Concurrent callers share a single refresh. Expiry is read from the
// token's exp claim or from the expires_in field of the token response;
// a token with no known expiry stays usable until the provider rejects it.
//
// Refreshers cover the exchanges used by the supported providers: static
// tokens, basic authentication, the IBM Cloud IAM apikey grant and the
// Auth0 password-realm grant. A TokenCache lets processes on one node
// share a refreshed token through Redis.
//
// Token values are never logged.
package credential
