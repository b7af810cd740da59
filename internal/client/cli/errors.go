package cli

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/trustkeeper/internal/client/client"
	"github.com/dmitrijs2005/trustkeeper/internal/client/credstore"
	"github.com/dmitrijs2005/trustkeeper/internal/client/services"
)

// describeError turns a service error into a message for the user.
func describeError(err error) string {
	switch {
	case errors.Is(err, services.ErrStepUpAbandoned):
		return "step-up was cancelled"
	case errors.Is(err, services.ErrStepUpRejected):
		return "verification code rejected, try again"
	case errors.Is(err, client.ErrValidation):
		var remote *client.RemoteError
		if errors.As(err, &remote) && remote.Detail() != "" {
			return "invalid input: " + remote.Detail()
		}
		return "invalid input"
	case errors.Is(err, client.ErrConflict):
		return "an account with this email already exists"
	case errors.Is(err, client.ErrAccountLocked):
		return "account temporarily locked, try again later"
	case errors.Is(err, client.ErrHardDeny):
		return "login denied by risk policy"
	case errors.Is(err, client.ErrAuth):
		return "login failed: invalid credentials"
	case errors.Is(err, client.ErrUnauthenticated):
		return "not logged in or session expired; run 'login'"
	case errors.Is(err, client.ErrTimeout):
		return "the server did not answer in time"
	case errors.Is(err, client.ErrUnavailable):
		return "server unavailable"
	case errors.Is(err, client.ErrResponseTooLarge):
		return "the server response was too large to process"
	case errors.Is(err, services.ErrSessionChanged):
		return "session changed while loading, try again"
	case errors.Is(err, credstore.ErrStorage):
		return "local device binding is unreadable; run 'forgetbinding' and log in again"
	}

	var remote *client.RemoteError
	if errors.As(err, &remote) {
		if d := remote.Detail(); d != "" {
			return fmt.Sprintf("server error %d: %s", remote.Status, d)
		}
		return fmt.Sprintf("server error %d", remote.Status)
	}
	return err.Error()
}
