// Package session holds the process-wide authenticated session: the current
// bearer token and account identity.
//
// State is the single owner of the value. SetSession and Clear replace it
// atomically and notify subscribers with a copy; subscribers never observe a
// partially updated session. A Persister, when configured, keeps the session
// across restarts.
package session
