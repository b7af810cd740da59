// Package credstore persists the device-binding token: exactly one secret
// per installation, encrypted at rest, durable across restarts.
//
// Every call is independently durable. Failures of the backing storage are
// returned wrapped in ErrStorage; callers must not assume success.
package credstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStorage wraps every failure of the backing storage.
	ErrStorage = errors.New("credential storage failure")
	// ErrEmptyToken is returned by Save for an empty token.
	ErrEmptyToken = errors.New("empty binding token")
)

// Store holds the device-binding token. Read returns ok=false when no token
// is stored.
type Store interface {
	Save(ctx context.Context, token string) error
	Read(ctx context.Context) (token string, ok bool, err error)
	Clear(ctx context.Context) error
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
