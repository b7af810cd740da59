package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dmitrijs2005/trustkeeper/internal/client/client"
	"github.com/dmitrijs2005/trustkeeper/internal/client/credstore"
	"github.com/dmitrijs2005/trustkeeper/internal/client/events"
	"github.com/dmitrijs2005/trustkeeper/internal/client/models"
	"github.com/dmitrijs2005/trustkeeper/internal/client/session"
	"github.com/dmitrijs2005/trustkeeper/internal/logging"
)

// TrustService defines device, session and risk queries.
//
// Reads are idempotent authenticated GETs. Mutations change only backend
// state except BindDevice and UnbindDevice, which also write or clear the
// local device binding. Callers must re-fetch the device list after any
// mutation.
type TrustService interface {
	ListDevices(ctx context.Context) ([]models.TrustedDevice, error)
	ListLogins(ctx context.Context) ([]models.LoginEvent, error)
	ListSessions(ctx context.Context) ([]models.SessionInfo, error)
	ImpossibleTravel(ctx context.Context) (*models.ImpossibleTravel, error)
	AnomalyScore(ctx context.Context, method string) (*models.AnomalyScore, error)
	SecurityMetrics(ctx context.Context) (*models.SecurityMetrics, error)
	GeoLogins(ctx context.Context) (*models.GeoLogins, error)
	IntelProfile(ctx context.Context) (*models.IntelProfile, error)

	ScoreTransaction(ctx context.Context, tx models.TransactionScoreRequest) (*models.ScoreBreakdown, error)
	ScoreLogin(ctx context.Context, in models.LoginScoreRequest) (*models.ScoreBreakdown, error)
	// ExportAudit returns the parsed export and the raw NDJSON body.
	ExportAudit(ctx context.Context) (*models.AuditExport, []byte, error)

	TrustDevice(ctx context.Context, deviceHash string) error
	// BindDevice stores the issued binding token. bound is false when the
	// response carried none; that is not an error.
	BindDevice(ctx context.Context, deviceHash string) (bound bool, err error)
	// UnbindDevice clears the local binding whenever the backend call
	// succeeds, whatever the response body.
	UnbindDevice(ctx context.Context, deviceHash string) error
}

type trustService struct {
	client client.Client
	state  *session.State
	store  credstore.Store
	pub    events.Publisher
	logger logging.Logger

	// device mutations are serialized per account
	mutations keyedMutex
}

func NewTrustService(c client.Client, state *session.State, store credstore.Store, pub events.Publisher, logger logging.Logger) TrustService {
	return &trustService{
		client: c,
		state:  state,
		store:  store,
		pub:    pub,
		logger: logging.OrNop(logger).With("component", "trust"),
	}
}

type deviceHashInput struct {
	Hash string `validate:"required,max=256,printascii"`
}

var anomalyMethods = map[string]bool{
	"":                    true,
	models.AnomalyAuto:    true,
	models.AnomalyIForest: true,
	models.AnomalyAutoenc: true,
	"ae":                  true,
}

func getJSON[T any](ctx context.Context, s *trustService, op, path string, query url.Values) (*T, error) {
	token, err := bearer(s.state, op)
	if err != nil {
		return nil, err
	}

	var out T
	req := &client.Request{Op: op, Method: http.MethodGet, Path: path, Query: query, Token: token}
	if err := do(ctx, s.client, req, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func postJSON[T any](ctx context.Context, s *trustService, op, path string, body any) (*T, error) {
	token, err := bearer(s.state, op)
	if err != nil {
		return nil, err
	}

	var out T
	req := &client.Request{Op: op, Method: http.MethodPost, Path: path, Body: body, Token: token}
	if err := do(ctx, s.client, req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *trustService) ListDevices(ctx context.Context) ([]models.TrustedDevice, error) {
	out, err := getJSON[[]models.TrustedDevice](ctx, s, "list devices", "/security/devices", nil)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

func (s *trustService) ListLogins(ctx context.Context) ([]models.LoginEvent, error) {
	out, err := getJSON[[]models.LoginEvent](ctx, s, "list logins", "/security/logins", nil)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

func (s *trustService) ListSessions(ctx context.Context) ([]models.SessionInfo, error) {
	out, err := getJSON[[]models.SessionInfo](ctx, s, "list sessions", "/security/sessions", nil)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

func (s *trustService) ImpossibleTravel(ctx context.Context) (*models.ImpossibleTravel, error) {
	return getJSON[models.ImpossibleTravel](ctx, s, "impossible travel", "/security/impossible_travel", nil)
}

func (s *trustService) AnomalyScore(ctx context.Context, method string) (*models.AnomalyScore, error) {
	if !anomalyMethods[method] {
		return nil, validationErr(fmt.Errorf("unknown anomaly method %q", method))
	}
	var q url.Values
	if method != "" {
		q = url.Values{"method": []string{method}}
	}
	return getJSON[models.AnomalyScore](ctx, s, "anomaly score", "/transactions/anomaly_score", q)
}

func (s *trustService) SecurityMetrics(ctx context.Context) (*models.SecurityMetrics, error) {
	return getJSON[models.SecurityMetrics](ctx, s, "security metrics", "/security/metrics", nil)
}

func (s *trustService) GeoLogins(ctx context.Context) (*models.GeoLogins, error) {
	return getJSON[models.GeoLogins](ctx, s, "geo logins", "/security/geo_logins", nil)
}

func (s *trustService) IntelProfile(ctx context.Context) (*models.IntelProfile, error) {
	return getJSON[models.IntelProfile](ctx, s, "intel profile", "/intelligence/profile", nil)
}

func (s *trustService) ScoreTransaction(ctx context.Context, tx models.TransactionScoreRequest) (*models.ScoreBreakdown, error) {
	if err := validate.Struct(tx); err != nil {
		return nil, validationErr(err)
	}
	return postJSON[models.ScoreBreakdown](ctx, s, "score transaction", "/intelligence/score/tx", tx)
}

func (s *trustService) ScoreLogin(ctx context.Context, in models.LoginScoreRequest) (*models.ScoreBreakdown, error) {
	if err := validate.Struct(in); err != nil {
		return nil, validationErr(err)
	}
	return postJSON[models.ScoreBreakdown](ctx, s, "score login", "/intelligence/score/login", in)
}

func (s *trustService) ExportAudit(ctx context.Context) (*models.AuditExport, []byte, error) {
	token, err := bearer(s.state, "export audit")
	if err != nil {
		return nil, nil, err
	}

	req := &client.Request{Op: "export audit", Method: http.MethodGet, Path: "/export/audit", Token: token}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Expect(req.Op, resp, nil, http.StatusOK); err != nil {
		return nil, nil, err
	}

	export, err := ParseAudit(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("export audit: %w", err)
	}
	if export.Skipped > 0 {
		s.logger.Warn(ctx, "audit export contained malformed lines", "skipped", export.Skipped)
	}
	return export, resp.Body, nil
}

// ParseAudit decodes an NDJSON audit export. Blank lines are ignored;
// undecodable lines and unknown record types are counted in Skipped.
func ParseAudit(body []byte) (*models.AuditExport, error) {
	export := &models.AuditExport{Records: []models.AuditRecord{}}

	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec models.AuditRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			export.Skipped++
			continue
		}
		if rec.Type != models.AuditLogin && rec.Type != models.AuditTransaction {
			export.Skipped++
			continue
		}
		export.Records = append(export.Records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return export, nil
}

func (s *trustService) devicePath(hash, action string) string {
	return "/security/devices/" + url.PathEscape(hash) + "/" + action
}

func (s *trustService) mutate(ctx context.Context, op, hash, action string, out any) error {
	if err := validate.Struct(deviceHashInput{Hash: hash}); err != nil {
		return validationErr(err)
	}
	token, err := bearer(s.state, op)
	if err != nil {
		return err
	}
	req := &client.Request{Op: op, Method: http.MethodPost, Path: s.devicePath(hash, action), Token: token}
	return do(ctx, s.client, req, nil, out)
}

func (s *trustService) TrustDevice(ctx context.Context, deviceHash string) error {
	unlock := s.mutations.lock(s.state.Identity())
	defer unlock()

	if err := s.mutate(ctx, "trust device", deviceHash, "trust", nil); err != nil {
		return err
	}
	s.logger.Info(ctx, "device trusted", "device_hash", deviceHash)
	emit(ctx, s.pub, s.logger, events.DeviceTrusted, map[string]string{"device_hash": deviceHash})
	return nil
}

func (s *trustService) BindDevice(ctx context.Context, deviceHash string) (bool, error) {
	unlock := s.mutations.lock(s.state.Identity())
	defer unlock()

	var out models.BindResponse
	if err := s.mutate(ctx, "bind device", deviceHash, "bind", &out); err != nil {
		return false, err
	}

	if out.DeviceBinding == "" {
		s.logger.Info(ctx, "bind response carried no binding token", "device_hash", deviceHash)
		return false, nil
	}
	if err := s.store.Save(ctx, out.DeviceBinding); err != nil {
		return false, fmt.Errorf("bind device: %w", err)
	}

	s.logger.Info(ctx, "device bound", "device_hash", deviceHash, "binding", logging.Redact(out.DeviceBinding))
	emit(ctx, s.pub, s.logger, events.DeviceBound, map[string]string{"device_hash": deviceHash})
	return true, nil
}

func (s *trustService) UnbindDevice(ctx context.Context, deviceHash string) error {
	unlock := s.mutations.lock(s.state.Identity())
	defer unlock()

	if err := s.mutate(ctx, "unbind device", deviceHash, "unbind", nil); err != nil {
		return err
	}
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("unbind device: %w", err)
	}

	s.logger.Info(ctx, "device unbound", "device_hash", deviceHash)
	emit(ctx, s.pub, s.logger, events.DeviceUnbound, map[string]string{"device_hash": deviceHash})
	return nil
}
