// Package pipeline sends provider HTTP requests with credential handling
// and transient retries.
//
// A Pipeline composes two layers. The outer layer attaches the credential
// from an Authenticator and, when the provider answers 401 or the
// transport fails outright, renews the credential and resends exactly
// once. A second 401 is reported as util.ErrAuthenticationFailed. The
// inner layer retries connection failures, timeouts and the 408, 429 and
// 5xx statuses with the backoff of the retry package, and reports
// exhaustion as util.ErrTransientNetwork.
//
// Optional pieces: a gobreaker circuit breaker, an x/time/rate limiter,
// an OpenTelemetry client span per attempt and Prometheus metrics.
// Credential values are never logged.
package pipeline
