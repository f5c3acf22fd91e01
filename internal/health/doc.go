// Package health decides whether quantum resources are accessible and
// serves readiness endpoints.
//
// An Evaluator compiles an accessible_when CEL expression and evaluates
// it against the document a provider returns for its device, for example
//
//	device.status == "available"
//
// A Checker aggregates named checks into /healthz and /readyz responses;
// ResourceCheck adapts a resource probe and RedisCheck pings the shared
// token cache.
package health
