// Package common contains shared constants and small helpers used across
// trustkeeper components.
package common

// Outbound header names understood by the backend.
const (
	// AuthorizationHeaderName carries "Bearer <token>" on authenticated calls.
	AuthorizationHeaderName = "Authorization"

	// DeviceBindingHeaderName carries the persisted device-binding token on
	// login attempts.
	DeviceBindingHeaderName = "x-device-binding"

	// ClientHeaderName identifies the calling client build on every request.
	ClientHeaderName = "X-Client"

	// RequestIDHeaderName carries a per-request UUID for backend correlation.
	RequestIDHeaderName = "X-Request-ID"
)

// BearerPrefix is prepended to the access token in the Authorization header.
const BearerPrefix = "Bearer "
