// Package cli provides the interactive trustkeeper command-line client.
//
// NewApp wires configuration, the local database, credential storage, the
// session, the REST client and the services. App.Run starts a REPL that
// blocks until the user exits.
//
// Key features:
//   - Register / Login with risk-based step-up (verify, stepup, cancel)
//   - Device management: devices, trust, bind, unbind, forgetbinding
//   - Security views: logins, sessions, security (telemetry snapshot)
//   - Profile: profile, setprofile, avatar, me, deleteaccount
//   - Risk scoring and audit export (scoretx, scorelogin, export)
//
// Security events from the services are written to the log as they happen.
package cli
