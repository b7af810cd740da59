// Package services contains the application services of the trustkeeper
// client:
//
//   - AuthService runs the authentication protocol: register, login (with
//     device fingerprint and binding), step-up start/verify, profile and
//     account operations.
//   - StepUpController is the state machine around one step-up challenge,
//     for both login-triggered and standalone flows.
//   - TrustService runs device, session and login-history queries and the
//     device trust/bind/unbind mutations.
//   - TelemetryAggregator assembles the trust reads into one reconciled
//     SecuritySnapshot, replaced atomically on refresh.
//
// Services require an authenticated session.State where the backend does,
// and report failures with the sentinel errors of package client.
package services
