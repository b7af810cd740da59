package cli

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/dmitrijs2005/trustkeeper/internal/client/credstore"
	"github.com/dmitrijs2005/trustkeeper/internal/client/models"
	"github.com/dmitrijs2005/trustkeeper/internal/client/services"
	"github.com/dmitrijs2005/trustkeeper/internal/client/session"
	"github.com/dmitrijs2005/trustkeeper/internal/logging"
)

type fakeAuth struct {
	state *session.State

	regUser string
	regPass []byte
	regErr  error

	loginUser string
	loginPass []byte
	loginRes  *models.LoginResult
	loginErr  error

	startBearer string
	challenge   *models.StepUpChallenge
	verifyCode  string
	verifyResp  *models.StepUpVerifyResponse
	verifyErr   error

	account    *models.Account
	profile    *models.Profile
	update     *models.ProfileUpdate
	avatarName string
	avatarBody string

	deleteCalled bool
	deleteErr    error
	logoutCalled bool
}

func (f *fakeAuth) Register(_ context.Context, user string, pass []byte) error {
	f.regUser, f.regPass = user, append([]byte(nil), pass...)
	return f.regErr
}

func (f *fakeAuth) Login(ctx context.Context, user string, pass []byte) (*models.LoginResult, error) {
	f.loginUser, f.loginPass = user, append([]byte(nil), pass...)
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	if !f.loginRes.Provisional() && f.state != nil {
		if err := f.state.SetSession(ctx, f.loginRes.Token, f.loginRes.Identity); err != nil {
			return nil, err
		}
	}
	return f.loginRes, nil
}

func (f *fakeAuth) StartStepUp(_ context.Context, bearer string) (*models.StepUpChallenge, error) {
	f.startBearer = bearer
	cp := *f.challenge
	return &cp, nil
}

func (f *fakeAuth) VerifyStepUp(_ context.Context, _, _, code string) (*models.StepUpVerifyResponse, error) {
	f.verifyCode = code
	return f.verifyResp, f.verifyErr
}

func (f *fakeAuth) Me(context.Context) (*models.Account, error) { return f.account, nil }

func (f *fakeAuth) GetProfile(context.Context) (*models.Profile, error) { return f.profile, nil }

func (f *fakeAuth) UpdateProfile(_ context.Context, upd models.ProfileUpdate) (*models.Profile, error) {
	f.update = &upd
	return f.profile, nil
}

func (f *fakeAuth) UploadAvatar(_ context.Context, filename string, content io.Reader) (*models.Account, error) {
	b, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	f.avatarName, f.avatarBody = filename, string(b)
	return &models.Account{ID: 1, AvatarURL: "/static/avatars/1.png"}, nil
}

func (f *fakeAuth) DeleteAccount(context.Context) error {
	f.deleteCalled = true
	return f.deleteErr
}

func (f *fakeAuth) Logout(ctx context.Context) error {
	f.logoutCalled = true
	if f.state != nil {
		return f.state.Clear(ctx)
	}
	return nil
}

type fakeTrust struct {
	services.TrustService

	devices   []models.TrustedDevice
	logins    []models.LoginEvent
	sessions  []models.SessionInfo
	mutations []string
	bound     bool
	scored    *models.TransactionScoreRequest
	loginIn   *models.LoginScoreRequest
	export    *models.AuditExport
	raw       []byte
	err       error
}

func (f *fakeTrust) ListDevices(context.Context) ([]models.TrustedDevice, error) {
	return f.devices, f.err
}
func (f *fakeTrust) ListLogins(context.Context) ([]models.LoginEvent, error) { return f.logins, f.err }
func (f *fakeTrust) ListSessions(context.Context) ([]models.SessionInfo, error) {
	return f.sessions, f.err
}
func (f *fakeTrust) ImpossibleTravel(context.Context) (*models.ImpossibleTravel, error) {
	return &models.ImpossibleTravel{EnoughData: true, Flagged: true,
		From: &models.TravelPoint{City: "Riga"}, To: &models.TravelPoint{City: "Tokyo"}, DistanceKm: 8000, HoursBetween: 1}, f.err
}
func (f *fakeTrust) AnomalyScore(_ context.Context, method string) (*models.AnomalyScore, error) {
	return &models.AnomalyScore{EnoughData: true, Score: 42, Method: method}, f.err
}
func (f *fakeTrust) SecurityMetrics(context.Context) (*models.SecurityMetrics, error) {
	return &models.SecurityMetrics{Totals: models.LoginTotals{Success: 3, Fail: 1}, Devices: models.DeviceCounts{Total: len(f.devices), Trusted: 5}}, f.err
}
func (f *fakeTrust) GeoLogins(context.Context) (*models.GeoLogins, error) {
	return &models.GeoLogins{}, f.err
}
func (f *fakeTrust) IntelProfile(context.Context) (*models.IntelProfile, error) {
	return &models.IntelProfile{}, f.err
}
func (f *fakeTrust) TrustDevice(_ context.Context, hash string) error {
	f.mutations = append(f.mutations, "trust "+hash)
	return f.err
}
func (f *fakeTrust) BindDevice(_ context.Context, hash string) (bool, error) {
	f.mutations = append(f.mutations, "bind "+hash)
	return f.bound, f.err
}
func (f *fakeTrust) UnbindDevice(_ context.Context, hash string) error {
	f.mutations = append(f.mutations, "unbind "+hash)
	return f.err
}
func (f *fakeTrust) ScoreTransaction(_ context.Context, tx models.TransactionScoreRequest) (*models.ScoreBreakdown, error) {
	f.scored = &tx
	return &models.ScoreBreakdown{Total: 61, Parts: []string{"amount_outlier"}}, f.err
}
func (f *fakeTrust) ScoreLogin(_ context.Context, in models.LoginScoreRequest) (*models.ScoreBreakdown, error) {
	f.loginIn = &in
	return &models.ScoreBreakdown{Total: 35, Parts: []string{"new_device"}}, f.err
}
func (f *fakeTrust) ExportAudit(context.Context) (*models.AuditExport, []byte, error) {
	return f.export, f.raw, f.err
}

type fakeArchiver struct {
	identity string
	body     []byte
}

func (f *fakeArchiver) Upload(_ context.Context, identity string, body []byte) (string, error) {
	f.identity, f.body = identity, body
	return "audit/" + identity + "/k.ndjson", nil
}

func (f *fakeArchiver) DownloadURL(_ context.Context, key string) (string, error) {
	return "https://s3.test/" + key, nil
}

type testApp struct {
	*App
	auth  *fakeAuth
	trust *fakeTrust
	out   *bytes.Buffer
}

func newTestApp(t *testing.T, input string) *testApp {
	t.Helper()
	state := session.NewState(nil, nil)
	auth := &fakeAuth{state: state}
	trust := &fakeTrust{}
	out := &bytes.Buffer{}

	telemetry := services.NewTelemetryAggregator(trust, state, nil)
	t.Cleanup(telemetry.Close)

	app := &App{
		auth:      auth,
		trust:     trust,
		stepup:    services.NewStepUpController(auth, state, nil, nil),
		telemetry: telemetry,
		state:     state,
		store:     credstore.NewMemoryStore(),
		reader:    bufio.NewReader(strings.NewReader(input)),
		out:       out,
		logger:    logging.Nop(),
	}
	return &testApp{App: app, auth: auth, trust: trust, out: out}
}

func stubInputs(t *testing.T, username string, password []byte) {
	t.Helper()
	origST, origGP := getSimpleText, getPassword
	getSimpleText = func(_ *bufio.Reader, _ string, _ io.Writer) (string, error) { return username, nil }
	getPassword = func(_ *bufio.Reader, _ io.Writer) ([]byte, error) { return password, nil }
	t.Cleanup(func() {
		getSimpleText = origST
		getPassword = origGP
	})
}

type brokenStore struct {
	credstore.Store
	err error
}

func (s brokenStore) Clear(context.Context) error { return s.err }
