// Package metadata stores small client-side key/value records (session
// token, device binding, installation id) in the local SQLite database.
package metadata

import (
	"context"
)

// Well-known keys.
const (
	KeyInstallationID  = "installation_id"
	KeySessionToken    = "session.token"
	KeySessionIdentity = "session.identity"
	KeyDeviceBinding   = "device.binding"
)

// Repository is a byte-valued key/value store. Get returns (nil, nil) for a
// missing key.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}
