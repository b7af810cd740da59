package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/trustkeeper/internal/client/client"
	"github.com/dmitrijs2005/trustkeeper/internal/client/events"
	"github.com/dmitrijs2005/trustkeeper/internal/client/models"
	"github.com/dmitrijs2005/trustkeeper/internal/client/session"
	"github.com/dmitrijs2005/trustkeeper/internal/logging"
)

type StepUpState int

const (
	StepUpIdle StepUpState = iota
	StepUpStarting
	StepUpAwaitingCode
	StepUpVerifying
	StepUpVerified
	StepUpFailed
)

func (s StepUpState) String() string {
	switch s {
	case StepUpIdle:
		return "idle"
	case StepUpStarting:
		return "starting"
	case StepUpAwaitingCode:
		return "awaiting_code"
	case StepUpVerifying:
		return "verifying"
	case StepUpVerified:
		return "verified"
	case StepUpFailed:
		return "failed"
	default:
		return fmt.Sprintf("StepUpState(%d)", int(s))
	}
}

var (
	// ErrStepUpRejected reports a failed verify. The controller is back in
	// AwaitingCode and the same challenge may be retried.
	ErrStepUpRejected = errors.New("step-up verification rejected")
	// ErrStepUpState reports an operation not allowed in the current state.
	ErrStepUpState = errors.New("invalid step-up state")
	// ErrStepUpAbandoned reports a result that arrived after Abandon or a
	// newer Start. It was discarded and nothing was committed.
	ErrStepUpAbandoned = errors.New("step-up abandoned")
)

// StepUpController drives one step-up challenge at a time:
//
//	Idle -> Starting -> AwaitingCode -> Verifying -> Verified
//	                         ^              |
//	                         +---- Failed <-+
//
// Start takes the provisional login result for the login-triggered flow, or
// nil for a standalone challenge. Verify replaces the provisional token with
// the verified one in the session; the provisional token is never committed.
// Every verify attempt is explicit; nothing is retried automatically.
type StepUpController struct {
	auth   AuthService
	state  *session.State
	pub    events.Publisher
	logger logging.Logger

	mu          sync.Mutex
	current     StepUpState
	challenge   *models.StepUpChallenge
	provisional *models.LoginResult
	generation  uint64
	onChange    func(from, to StepUpState)
}

func NewStepUpController(auth AuthService, state *session.State, pub events.Publisher, logger logging.Logger) *StepUpController {
	return &StepUpController{
		auth:   auth,
		state:  state,
		pub:    pub,
		logger: logging.OrNop(logger).With("component", "stepup"),
	}
}

// OnTransition registers fn to be called on every state change. fn runs with
// the controller locked and must not call back into it.
func (c *StepUpController) OnTransition(fn func(from, to StepUpState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *StepUpController) State() StepUpState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Challenge returns a copy of the active challenge.
func (c *StepUpController) Challenge() (models.StepUpChallenge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.challenge == nil {
		return models.StepUpChallenge{}, false
	}
	return *c.challenge, true
}

// HasProvisional reports whether the controller runs a login-triggered flow.
func (c *StepUpController) HasProvisional() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provisional != nil
}

// transition must be called with mu held.
func (c *StepUpController) transition(to StepUpState) {
	from := c.current
	c.current = to
	if c.onChange != nil && from != to {
		c.onChange(from, to)
	}
}

// Start requests a new challenge. Any previous challenge is discarded.
func (c *StepUpController) Start(ctx context.Context, prov *models.LoginResult) (*models.StepUpChallenge, error) {
	if prov != nil && !prov.Provisional() {
		return nil, fmt.Errorf("%w: login result does not require step-up", ErrStepUpState)
	}

	c.mu.Lock()
	switch c.current {
	case StepUpStarting, StepUpVerifying:
		st := c.current
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot start while %s", ErrStepUpState, st)
	}
	c.generation++
	gen := c.generation
	c.challenge = nil
	c.provisional = prov
	c.transition(StepUpStarting)
	c.mu.Unlock()

	bearer := c.state.Token()
	if prov != nil {
		bearer = prov.Token
	}

	ch, err := c.auth.StartStepUp(ctx, bearer)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return nil, ErrStepUpAbandoned
	}
	if err != nil {
		c.provisional = nil
		c.transition(StepUpIdle)
		c.logger.Warn(ctx, "step-up start failed", "error", err)
		return nil, fmt.Errorf("step-up start: %w", err)
	}

	if ch.ChallengeID == "" && prov != nil {
		ch.ChallengeID = prov.PendingChallenge
	}
	c.challenge = ch
	c.transition(StepUpAwaitingCode)
	c.logger.Info(ctx, "step-up challenge issued", "login_triggered", prov != nil, "dev_hint", ch.Hint != "")

	cp := *ch
	return &cp, nil
}

// Verify submits code for the active challenge. On any failure the
// controller returns to AwaitingCode. ErrStepUpRejected is returned only
// when the backend refused the code; other errors are passed through.
func (c *StepUpController) Verify(ctx context.Context, code string) error {
	if err := validate.Struct(otpInput{Code: code}); err != nil {
		return validationErr(err)
	}

	c.mu.Lock()
	if c.current != StepUpAwaitingCode || c.challenge == nil {
		st := c.current
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot verify while %s", ErrStepUpState, st)
	}
	gen := c.generation
	challengeID := c.challenge.ChallengeID
	prov := c.provisional
	c.transition(StepUpVerifying)
	c.mu.Unlock()

	bearer := c.state.Token()
	if prov != nil {
		bearer = prov.Token
	}

	resp, err := c.auth.VerifyStepUp(ctx, bearer, challengeID, code)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return ErrStepUpAbandoned
	}

	if err == nil {
		err = checkVerifyResponse(resp, prov)
	}
	if err == nil {
		err = c.commit(ctx, resp.BearerToken(), prov)
	}
	if err != nil {
		c.transition(StepUpFailed)
		c.transition(StepUpAwaitingCode)
		c.mu.Unlock()

		c.logger.Warn(ctx, "step-up verification failed", "error", err)
		emit(ctx, c.pub, c.logger, events.StepUpFailed, nil)
		if rejectedByBackend(err) {
			return fmt.Errorf("%w: %w", ErrStepUpRejected, err)
		}
		return err
	}

	c.challenge = nil
	c.provisional = nil
	c.transition(StepUpVerified)
	identity := c.state.Identity()
	c.mu.Unlock()

	c.logger.Info(ctx, "step-up verified", "identity", identity)
	emit(ctx, c.pub, c.logger, events.StepUpVerified, map[string]string{"identity": identity})
	return nil
}

// rejectedByBackend reports whether err is the backend refusing the code.
// Transport, session and storage failures say nothing about the code.
func rejectedByBackend(err error) bool {
	if errors.Is(err, ErrStepUpRejected) {
		return false
	}
	var remote *client.RemoteError
	return errors.As(err, &remote) && !errors.Is(err, client.ErrUnauthenticated)
}

func checkVerifyResponse(resp *models.StepUpVerifyResponse, prov *models.LoginResult) error {
	if resp == nil || !resp.Accepted() {
		return fmt.Errorf("%w: backend did not confirm the code", ErrStepUpRejected)
	}
	if prov == nil {
		return nil
	}
	token := resp.BearerToken()
	if token == "" {
		return fmt.Errorf("%w: no verified token issued", ErrStepUpRejected)
	}
	if token == prov.Token {
		return fmt.Errorf("%w: verified token equals the provisional token", ErrStepUpRejected)
	}
	return nil
}

// commit must be called with mu held. A standalone verify without a new
// token leaves the session as it is.
func (c *StepUpController) commit(ctx context.Context, token string, prov *models.LoginResult) error {
	if token == "" {
		return nil
	}
	identity := c.state.Identity()
	if prov != nil {
		identity = prov.Identity
	}
	return c.state.SetSession(ctx, token, identity)
}

// Abandon discards the challenge from any state. In-flight calls are not
// cancelled; their results are dropped when they arrive.
func (c *StepUpController) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.challenge = nil
	c.provisional = nil
	c.transition(StepUpIdle)
}
