package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/dmitrijs2005/trustkeeper/internal/client/client"
	"github.com/dmitrijs2005/trustkeeper/internal/client/credstore"
	"github.com/dmitrijs2005/trustkeeper/internal/client/events"
	"github.com/dmitrijs2005/trustkeeper/internal/client/models"
	"github.com/dmitrijs2005/trustkeeper/internal/client/session"
	"github.com/dmitrijs2005/trustkeeper/internal/common"
	"github.com/dmitrijs2005/trustkeeper/internal/logging"
)

// AuthService defines the authentication operations.
//
// Contract:
//   - Register: create an account; ErrConflict when the identity exists. The
//     account is not logged in afterwards.
//   - Login: authenticate with fingerprint and device binding. A final token
//     is committed to the session; a provisional one (StepUpRequired) is
//     returned only and must go through StepUpController.
//   - StartStepUp/VerifyStepUp: raw step-up calls; bearer may be empty.
//   - Me, GetProfile, UpdateProfile, UploadAvatar, DeleteAccount: require a
//     committed session. DeleteAccount does not clear the session; callers
//     call Logout after it succeeds.
//   - Logout: clear the local session.
type AuthService interface {
	Register(ctx context.Context, identity string, secret []byte) error
	Login(ctx context.Context, identity string, secret []byte) (*models.LoginResult, error)
	StartStepUp(ctx context.Context, bearer string) (*models.StepUpChallenge, error)
	VerifyStepUp(ctx context.Context, bearer, challengeID, code string) (*models.StepUpVerifyResponse, error)
	Me(ctx context.Context) (*models.Account, error)
	GetProfile(ctx context.Context) (*models.Profile, error)
	UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (*models.Profile, error)
	UploadAvatar(ctx context.Context, filename string, content io.Reader) (*models.Account, error)
	DeleteAccount(ctx context.Context) error
	Logout(ctx context.Context) error
}

type authService struct {
	client      client.Client
	state       *session.State
	store       credstore.Store
	fingerprint FingerprintSource
	pub         events.Publisher
	logger      logging.Logger
}

// NewAuthService wires the service. pub and logger may be nil.
func NewAuthService(c client.Client, state *session.State, store credstore.Store, fp FingerprintSource,
	pub events.Publisher, logger logging.Logger) AuthService {
	return &authService{
		client:      c,
		state:       state,
		store:       store,
		fingerprint: fp,
		pub:         pub,
		logger:      logging.OrNop(logger).With("component", "auth"),
	}
}

type credentialsInput struct {
	Identity string `validate:"required,email,max=254"`
	Secret   string `validate:"required,max=1024"`
}

type otpInput struct {
	Code string `validate:"required,numeric,min=4,max=10"`
}

func (a *authService) Register(ctx context.Context, identity string, secret []byte) error {
	if err := validate.Struct(credentialsInput{Identity: identity, Secret: string(secret)}); err != nil {
		return validationErr(err)
	}

	req := &client.Request{
		Op:     "register",
		Method: http.MethodPost,
		Path:   "/auth/register",
		Body:   models.Credentials{Email: identity, Password: string(secret)},
	}
	if err := do(ctx, a.client, req, nil, nil, http.StatusOK, http.StatusCreated); err != nil {
		return err
	}

	a.logger.Info(ctx, "account registered", "identity", identity)
	return nil
}

func (a *authService) Login(ctx context.Context, identity string, secret []byte) (*models.LoginResult, error) {
	if err := validate.Struct(credentialsInput{Identity: identity, Secret: string(secret)}); err != nil {
		return nil, validationErr(err)
	}

	fp, err := a.fingerprint.Fingerprint(ctx)
	if err != nil {
		return nil, fmt.Errorf("login: fingerprint: %w", err)
	}

	binding, hasBinding, err := a.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("login: read device binding: %w", err)
	}

	req := &client.Request{
		Op:     "login",
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body: models.LoginRequest{
			Email:    identity,
			Password: string(secret),
			Device:   fp,
		},
	}
	if hasBinding {
		body := req.Body.(models.LoginRequest)
		body.DeviceBinding = binding
		req.Body = body
		req.Header = http.Header{}
		req.Header.Set(common.DeviceBindingHeaderName, binding)
	}

	var out models.LoginResponse
	if err := do(ctx, a.client, req, client.LoginKind, &out, http.StatusOK); err != nil {
		a.reportLoginFailure(ctx, identity, err)
		return nil, err
	}

	token := out.BearerToken()
	if token == "" {
		return nil, fmt.Errorf("login: %w: response carried no token", client.ErrAuth)
	}

	result := &models.LoginResult{
		Identity:         identity,
		Token:            token,
		RiskScore:        out.RiskScore,
		StepUpRequired:   out.StepUpRequired,
		Message:          out.Message,
		PendingChallenge: out.PendingChallenge,
	}

	if result.StepUpRequired {
		a.logger.Info(ctx, "login requires step-up", "identity", identity, "risk_score", out.RiskScore)
		return result, nil
	}

	if err := a.state.SetSession(ctx, token, identity); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	a.logger.Info(ctx, "login succeeded", "identity", identity, "risk_score", out.RiskScore, "bound", hasBinding)
	return result, nil
}

func (a *authService) reportLoginFailure(ctx context.Context, identity string, err error) {
	attrs := map[string]string{"identity": identity}
	switch {
	case errors.Is(err, client.ErrAccountLocked):
		a.logger.Warn(ctx, "login locked", "identity", identity)
		emit(ctx, a.pub, a.logger, events.LoginLocked, attrs)
	case errors.Is(err, client.ErrHardDeny):
		a.logger.Warn(ctx, "login denied by risk policy", "identity", identity)
		emit(ctx, a.pub, a.logger, events.LoginDenied, attrs)
	default:
		a.logger.Info(ctx, "login failed", "identity", identity, "error", err)
	}
}

func (a *authService) StartStepUp(ctx context.Context, bearer string) (*models.StepUpChallenge, error) {
	req := &client.Request{
		Op:     "step-up start",
		Method: http.MethodPost,
		Path:   "/auth/step_up/start",
		Body:   models.StepUpStartRequest{Method: "otp"},
		Token:  bearer,
	}

	var out models.StepUpStartResponse
	if err := do(ctx, a.client, req, nil, &out); err != nil {
		return nil, err
	}

	ch := &models.StepUpChallenge{ChallengeID: out.ChallengeID, Hint: out.Code}
	if ch.ChallengeID == "" {
		ch.ChallengeID = out.Token
	}
	if ch.Hint == "" {
		ch.Hint = out.TestCode
	}
	return ch, nil
}

func (a *authService) VerifyStepUp(ctx context.Context, bearer, challengeID, code string) (*models.StepUpVerifyResponse, error) {
	if err := validate.Struct(otpInput{Code: code}); err != nil {
		return nil, validationErr(err)
	}

	req := &client.Request{
		Op:     "step-up verify",
		Method: http.MethodPost,
		Path:   "/auth/step_up/verify",
		Body:   models.StepUpVerifyRequest{Token: challengeID, Code: code},
		Token:  bearer,
	}

	var out models.StepUpVerifyResponse
	if err := do(ctx, a.client, req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *authService) Me(ctx context.Context) (*models.Account, error) {
	token, err := bearer(a.state, "me")
	if err != nil {
		return nil, err
	}

	var out models.Account
	req := &client.Request{Op: "me", Method: http.MethodGet, Path: "/me", Token: token}
	if err := do(ctx, a.client, req, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *authService) GetProfile(ctx context.Context) (*models.Profile, error) {
	token, err := bearer(a.state, "get profile")
	if err != nil {
		return nil, err
	}

	var out models.Profile
	req := &client.Request{Op: "get profile", Method: http.MethodGet, Path: "/profile", Token: token}
	if err := do(ctx, a.client, req, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *authService) UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (*models.Profile, error) {
	if upd.Empty() {
		return nil, validationErr(fmt.Errorf("no profile fields to update"))
	}
	if err := validate.Struct(upd); err != nil {
		return nil, validationErr(err)
	}

	token, err := bearer(a.state, "update profile")
	if err != nil {
		return nil, err
	}

	var out models.Profile
	req := &client.Request{Op: "update profile", Method: http.MethodPut, Path: "/profile", Body: upd, Token: token}
	if err := do(ctx, a.client, req, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *authService) UploadAvatar(ctx context.Context, filename string, content io.Reader) (*models.Account, error) {
	if filename == "" || content == nil {
		return nil, validationErr(fmt.Errorf("avatar file is required"))
	}

	token, err := bearer(a.state, "upload avatar")
	if err != nil {
		return nil, err
	}

	req := &client.Request{
		Op:     "upload avatar",
		Method: http.MethodPost,
		Path:   "/profile/avatar",
		Token:  token,
		File: &client.FilePart{
			Field:       "file",
			Filename:    filepath.Base(filename),
			ContentType: mime.TypeByExtension(filepath.Ext(filename)),
			Content:     content,
		},
	}

	var out models.Account
	if err := do(ctx, a.client, req, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *authService) DeleteAccount(ctx context.Context) error {
	token, err := bearer(a.state, "delete account")
	if err != nil {
		return err
	}

	req := &client.Request{Op: "delete account", Method: http.MethodDelete, Path: "/me", Token: token}
	if err := do(ctx, a.client, req, nil, nil, http.StatusNoContent, http.StatusOK); err != nil {
		return err
	}

	a.logger.Info(ctx, "account deleted", "identity", a.state.Identity())
	return nil
}

func (a *authService) Logout(ctx context.Context) error {
	return a.state.Clear(ctx)
}
