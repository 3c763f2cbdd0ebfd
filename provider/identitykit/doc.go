// Package identitykit implements session.Gateway against a REST identity
// service: password sign-up/sign-in, token refresh through a secure token
// endpoint, password reset, and an auth-state change subscription with
// replay-on-subscribe semantics.
//
// Provider error codes are translated into session.Reason values at this
// boundary; raw provider error text never reaches user-facing surfaces.
package identitykit
