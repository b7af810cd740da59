package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/trustkeeper/internal/client/client"
	"github.com/dmitrijs2005/trustkeeper/internal/client/events"
	"github.com/dmitrijs2005/trustkeeper/internal/client/models"
	"github.com/dmitrijs2005/trustkeeper/internal/client/session"
	"github.com/dmitrijs2005/trustkeeper/internal/logging"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func validationErr(err error) error {
	return fmt.Errorf("%w: %w", client.ErrValidation, err)
}

// FingerprintSource computes the fingerprint of the current installation.
type FingerprintSource interface {
	Fingerprint(ctx context.Context) (models.DeviceFingerprint, error)
}

// bearer returns the committed session token or ErrUnauthenticated.
func bearer(state *session.State, op string) (string, error) {
	token := state.Token()
	if token == "" {
		return "", fmt.Errorf("%s: %w", op, client.ErrUnauthenticated)
	}
	return token, nil
}

// do sends req, checks the status against accepted and decodes the body into
// out when out is non-nil.
func do(ctx context.Context, c client.Client, req *client.Request, kind client.KindFunc, out any, accepted ...int) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if len(accepted) == 0 {
		err = client.ExpectSuccess(req.Op, resp, kind)
	} else {
		err = client.Expect(req.Op, resp, kind, accepted...)
	}
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := resp.DecodeJSON(out); err != nil {
		return fmt.Errorf("%s: %w", req.Op, err)
	}
	return nil
}

func emit(ctx context.Context, pub events.Publisher, logger logging.Logger, typ string, attrs map[string]string) {
	if err := events.Emit(ctx, pub, typ, attrs); err != nil {
		logger.Warn(ctx, "event not published", "type", typ, "error", err)
	}
}

// PublishSessionEvents publishes session.committed and session.cleared for
// every change of state. The returned function stops publishing.
func PublishSessionEvents(state *session.State, pub events.Publisher, logger logging.Logger) (unsubscribe func()) {
	logger = logging.OrNop(logger)
	return state.Subscribe(func(s *session.Session) {
		ctx := context.Background()
		if s == nil {
			emit(ctx, pub, logger, events.SessionCleared, nil)
			return
		}
		emit(ctx, pub, logger, events.SessionCommitted, map[string]string{"identity": s.Identity})
	})
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
