// Package client contains the transport layer used to talk to the
// trustkeeper backend.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic contract (see the Client interface): one Do call
//     that sends a Request and returns the raw Response for any HTTP status.
//  2. A concrete HTTP/JSON implementation (see HTTPClient) that stamps the
//     client identification and request-id headers, attaches the bearer token
//     when one is given, bounds every call with a timeout and encodes JSON or
//     multipart bodies.
//  3. The error taxonomy shared by the services: sentinel errors plus
//     RemoteError, which carries status and body.
//
// # Error Handling
//
// Transport conditions are exposed as sentinel errors that callers can match
// with errors.Is: ErrTimeout and ErrUnavailable. A body over the configured
// limit (WithMaxResponseBody) fails with ErrResponseTooLarge rather than being
// cut short. Non-success statuses are
// turned into *RemoteError by Expect; its Unwrap returns the sentinel kind
// (ErrAccountLocked, ErrHardDeny, ErrConflict, ...).
//
// # Cancellation
//
// Once a request is dispatched it runs to completion or timeout even if the
// caller's context is cancelled. Callers that no longer care about a result
// must discard it themselves.
package client
