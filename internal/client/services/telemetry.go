package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/trustkeeper/internal/client/client"
	"github.com/dmitrijs2005/trustkeeper/internal/client/models"
	"github.com/dmitrijs2005/trustkeeper/internal/client/session"
	"github.com/dmitrijs2005/trustkeeper/internal/logging"
	"golang.org/x/sync/errgroup"
)

// ErrSessionChanged reports a refresh discarded because the session changed
// while it was in flight.
var ErrSessionChanged = errors.New("session changed during refresh")

// TelemetryAggregator publishes a SecuritySnapshot that is either a complete
// fresh result of one refresh or the previous snapshot, never a mix.
type TelemetryAggregator struct {
	trust         TrustService
	state         *session.State
	logger        logging.Logger
	now           func() time.Time
	anomalyMethod string

	// mu orders snapshot commits against session resets.
	mu          sync.Mutex
	snapshot    atomic.Pointer[models.SecuritySnapshot]
	unsubscribe func()
}

func NewTelemetryAggregator(trust TrustService, state *session.State, logger logging.Logger) *TelemetryAggregator {
	t := &TelemetryAggregator{
		trust:         trust,
		state:         state,
		logger:        logging.OrNop(logger).With("component", "telemetry"),
		now:           time.Now,
		anomalyMethod: models.AnomalyAuto,
	}
	t.unsubscribe = state.Subscribe(t.onSession)
	return t
}

// SetAnomalyMethod selects the detector used by Refresh. An unknown method
// is rejected and the previous choice is kept.
func (t *TelemetryAggregator) SetAnomalyMethod(method string) error {
	if !anomalyMethods[method] {
		return validationErr(fmt.Errorf("unknown anomaly method %q", method))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.anomalyMethod = method
	return nil
}

// Close stops following session changes.
func (t *TelemetryAggregator) Close() {
	t.unsubscribe()
}

// Snapshot returns the current snapshot or nil. The value is shared and
// must not be modified.
func (t *TelemetryAggregator) Snapshot() *models.SecuritySnapshot {
	return t.snapshot.Load()
}

func (t *TelemetryAggregator) onSession(s *session.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.snapshot.Load()
	if cur == nil {
		return
	}
	if s == nil || s.Identity != cur.Identity {
		t.snapshot.Store(nil)
	}
}

// Refresh fetches every telemetry read in parallel. On any failure the
// previous snapshot is kept and the first error is returned.
func (t *TelemetryAggregator) Refresh(ctx context.Context) (*models.SecuritySnapshot, error) {
	cur, version, ok := t.state.Snapshot()
	if !ok {
		return nil, fmt.Errorf("refresh telemetry: %w", client.ErrUnauthenticated)
	}

	t.mu.Lock()
	method := t.anomalyMethod
	t.mu.Unlock()

	var (
		devices  []models.TrustedDevice
		logins   []models.LoginEvent
		sessions []models.SessionInfo
		travel   *models.ImpossibleTravel
		anomaly  *models.AnomalyScore
		metrics  *models.SecurityMetrics
		geo      *models.GeoLogins
		intel    *models.IntelProfile
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { devices, err = t.trust.ListDevices(gctx); return })
	g.Go(func() (err error) { logins, err = t.trust.ListLogins(gctx); return })
	g.Go(func() (err error) { sessions, err = t.trust.ListSessions(gctx); return })
	g.Go(func() (err error) { travel, err = t.trust.ImpossibleTravel(gctx); return })
	g.Go(func() (err error) { anomaly, err = t.trust.AnomalyScore(gctx, method); return })
	g.Go(func() (err error) { metrics, err = t.trust.SecurityMetrics(gctx); return })
	g.Go(func() (err error) { geo, err = t.trust.GeoLogins(gctx); return })
	g.Go(func() (err error) { intel, err = t.trust.IntelProfile(gctx); return })

	if err := g.Wait(); err != nil {
		t.logger.Warn(ctx, "telemetry refresh failed, keeping previous snapshot", "error", err)
		return nil, fmt.Errorf("refresh telemetry: %w", err)
	}

	snap := Reconcile(cur.Identity, t.now(), Parts{
		Devices:          devices,
		Logins:           logins,
		Sessions:         sessions,
		ImpossibleTravel: travel,
		Anomaly:          anomaly,
		Metrics:          metrics,
		GeoLogins:        geo,
		Intel:            intel,
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Version() != version {
		t.logger.Info(ctx, "session changed during refresh, result discarded")
		return nil, ErrSessionChanged
	}
	t.snapshot.Store(snap)

	if len(snap.Inconsistencies) > 0 {
		t.logger.Warn(ctx, "telemetry inconsistencies", "count", len(snap.Inconsistencies))
	}
	return snap, nil
}

// Parts are the raw reads a snapshot is built from. Nil pointers are
// treated as empty results.
type Parts struct {
	Devices          []models.TrustedDevice
	Logins           []models.LoginEvent
	Sessions         []models.SessionInfo
	ImpossibleTravel *models.ImpossibleTravel
	Anomaly          *models.AnomalyScore
	Metrics          *models.SecurityMetrics
	GeoLogins        *models.GeoLogins
	Intel            *models.IntelProfile
}

// Reconcile builds a snapshot from p: devices are de-duplicated by hash and
// sorted by last seen, lists are ordered newest first, risk scores are
// clamped to [0,100], and cross-checks that fail are recorded in
// Inconsistencies.
func Reconcile(identity string, now time.Time, p Parts) *models.SecuritySnapshot {
	snap := &models.SecuritySnapshot{
		Identity:  identity,
		FetchedAt: now,
	}
	var issues []string

	snap.Devices, issues = dedupeDevices(p.Devices, issues)

	snap.Logins = append([]models.LoginEvent(nil), p.Logins...)
	for i := range snap.Logins {
		var clamped bool
		snap.Logins[i].RiskScore, clamped = clampRisk(snap.Logins[i].RiskScore)
		if clamped {
			issues = append(issues, fmt.Sprintf("login at %s: risk score out of range", snap.Logins[i].Timestamp.Format(time.RFC3339)))
		}
	}
	sort.SliceStable(snap.Logins, func(i, j int) bool {
		return snap.Logins[i].Timestamp.After(snap.Logins[j].Timestamp.Time)
	})

	snap.Sessions = append([]models.SessionInfo(nil), p.Sessions...)
	sort.SliceStable(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].LastSeen.After(snap.Sessions[j].LastSeen.Time)
	})

	if p.ImpossibleTravel != nil {
		snap.ImpossibleTravel = *p.ImpossibleTravel
		if snap.ImpossibleTravel.Flagged && !snap.ImpossibleTravel.EnoughData {
			issues = append(issues, "impossible travel flagged without enough data")
		}
	}

	if p.Anomaly != nil {
		snap.Anomaly = *p.Anomaly
		var clamped bool
		snap.Anomaly.Score, clamped = clampRisk(snap.Anomaly.Score)
		if clamped {
			issues = append(issues, "anomaly score out of range")
		}
	}

	if p.GeoLogins != nil {
		snap.GeoLogins = append([]models.GeoLogin(nil), p.GeoLogins.Logins...)
		for i := range snap.GeoLogins {
			snap.GeoLogins[i].Risk, _ = clampRisk(snap.GeoLogins[i].Risk)
		}
	}

	if p.Intel != nil {
		snap.Intel = *p.Intel
	}

	if p.Metrics != nil {
		snap.Metrics = *p.Metrics
		snap.Metrics.Series = append([]models.DailyLoginStats(nil), p.Metrics.Series...)
		issues = checkMetrics(snap, issues)
	}

	snap.Inconsistencies = issues
	return snap
}

func dedupeDevices(in []models.TrustedDevice, issues []string) ([]models.TrustedDevice, []string) {
	byHash := make(map[string]int, len(in))
	out := make([]models.TrustedDevice, 0, len(in))
	for _, d := range in {
		i, dup := byHash[d.DeviceHash]
		if !dup {
			byHash[d.DeviceHash] = len(out)
			out = append(out, d)
			continue
		}
		issues = append(issues, fmt.Sprintf("device %s listed more than once", d.DeviceHash))
		if d.LastSeen.After(out[i].LastSeen.Time) {
			out[i] = d
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen.Time)
	})
	return out, issues
}

func checkMetrics(snap *models.SecuritySnapshot, issues []string) []string {
	m := snap.Metrics
	if m.Devices.Total != len(snap.Devices) {
		issues = append(issues, fmt.Sprintf("metrics report %d devices, device list has %d", m.Devices.Total, len(snap.Devices)))
	}
	if trusted := snap.TrustedDeviceCount(); m.Devices.Trusted != trusted {
		issues = append(issues, fmt.Sprintf("metrics report %d trusted devices, device list has %d", m.Devices.Trusted, trusted))
	}
	if len(m.Series) > 0 {
		var sum models.LoginTotals
		for _, d := range m.Series {
			sum.Success += d.Success
			sum.Fail += d.Fail
			sum.Risky += d.Risky
		}
		if sum != m.Totals {
			issues = append(issues, "metrics totals do not match the daily series")
		}
	}
	return issues
}

func clampRisk(v int) (int, bool) {
	switch {
	case v < 0:
		return 0, true
	case v > 100:
		return 100, true
	default:
		return v, false
	}
}
