// Package models defines the client-side wire and view models for the
// trustkeeper backend: auth results, step-up challenges, devices, login
// history, telemetry and the aggregated SecuritySnapshot.
package models
