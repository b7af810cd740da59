package services

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/trustkeeper/internal/client/client"
	"github.com/dmitrijs2005/trustkeeper/internal/client/events"
	"github.com/dmitrijs2005/trustkeeper/internal/client/models"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

func stubTelemetry(f *fakeClient) {
	f.
		on(http.MethodGet, "/security/devices", http.StatusOK,
			`[{"device_hash":"h1","trusted":true,"last_seen":"2024-03-01T10:00:00"},
			  {"device_hash":"h2","trusted":false,"last_seen":"2024-03-04T10:00:00"}]`).
		on(http.MethodGet, "/security/logins", http.StatusOK,
			`[{"ts":"2024-03-01T10:00:00","success":true,"risk_score":10},
			  {"ts":"2024-03-04T10:00:00","success":false,"risk_score":140}]`).
		on(http.MethodGet, "/security/sessions", http.StatusOK, `[]`).
		on(http.MethodGet, "/security/impossible_travel", http.StatusOK, `{"enough_data":false,"flagged":false}`).
		on(http.MethodGet, "/transactions/anomaly_score", http.StatusOK, `{"enough_data":true,"score":40,"method":"iforest"}`).
		on(http.MethodGet, "/security/metrics", http.StatusOK,
			`{"series":[{"date":"2024-03-01","success":1,"fail":0,"risky":0},{"date":"2024-03-04","success":0,"fail":1,"risky":1}],
			  "totals":{"success":1,"fail":1,"risky":1},"devices":{"trusted":1,"total":2}}`).
		on(http.MethodGet, "/security/geo_logins", http.StatusOK, `{"logins":[]}`).
		on(http.MethodGet, "/intelligence/profile", http.StatusOK, `{"login_cities":{"Riga":2}}`)
}

func newAggregator(f *fixture) *TelemetryAggregator {
	agg := NewTelemetryAggregator(f.trust, f.state, nil)
	agg.now = func() time.Time { return fixedNow }
	return agg
}

func TestTelemetry_Refresh(t *testing.T) {
	f := newFixture()
	f.login(t, "t1")
	stubTelemetry(f.client)
	agg := newAggregator(f)
	defer agg.Close()

	snap, err := agg.Refresh(context.Background())
	require.NoError(t, err)
	assert.Same(t, snap, agg.Snapshot())

	assert.Equal(t, "a@x.com", snap.Identity)
	assert.Equal(t, fixedNow, snap.FetchedAt)
	require.Len(t, snap.Devices, 2)
	assert.Equal(t, "h2", snap.Devices[0].DeviceHash)
	assert.Equal(t, 1, snap.TrustedDeviceCount())

	require.Len(t, snap.Logins, 2)
	assert.Equal(t, 100, snap.Logins[0].RiskScore)
	assert.Equal(t, 40, snap.Anomaly.Score)
	assert.Equal(t, 2, snap.Intel.LoginCities["Riga"])
	assert.Len(t, snap.Inconsistencies, 1)

	q := f.client.last(http.MethodGet, "/transactions/anomaly_score").Query
	assert.Equal(t, models.AnomalyAuto, q.Get("method"))
}

func TestTelemetry_AnomalyMethod(t *testing.T) {
	f := newFixture()
	f.login(t, "t1")
	stubTelemetry(f.client)
	agg := newAggregator(f)
	defer agg.Close()

	require.NoError(t, agg.SetAnomalyMethod(models.AnomalyAutoenc))
	_, err := agg.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.AnomalyAutoenc, f.client.last(http.MethodGet, "/transactions/anomaly_score").Query.Get("method"))
}

func TestTelemetry_UnknownAnomalyMethodKeepsPrevious(t *testing.T) {
	f := newFixture()
	f.login(t, "t1")
	stubTelemetry(f.client)
	agg := newAggregator(f)
	defer agg.Close()
	ctx := context.Background()

	require.NoError(t, agg.SetAnomalyMethod(models.AnomalyIForest))
	err := agg.SetAnomalyMethod("bogus")
	assert.ErrorIs(t, err, client.ErrValidation)

	for range 2 {
		_, err = agg.Refresh(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.AnomalyIForest, f.client.last(http.MethodGet, "/transactions/anomaly_score").Query.Get("method"))
	}
}

func TestTelemetry_PartialFailureKeepsPreviousSnapshot(t *testing.T) {
	f := newFixture()
	f.login(t, "t1")
	stubTelemetry(f.client)
	agg := newAggregator(f)
	defer agg.Close()
	ctx := context.Background()

	first, err := agg.Refresh(ctx)
	require.NoError(t, err)

	f.client.on(http.MethodGet, "/security/geo_logins", http.StatusInternalServerError, `oops`)
	snap, err := agg.Refresh(ctx)
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, client.ErrRemote)
	assert.Same(t, first, agg.Snapshot())
}

func TestTelemetry_FirstRefreshFailureLeavesNoSnapshot(t *testing.T) {
	f := newFixture()
	f.login(t, "t1")
	stubTelemetry(f.client)
	f.client.onErr(http.MethodGet, "/security/devices", client.ErrTimeout)
	agg := newAggregator(f)
	defer agg.Close()

	_, err := agg.Refresh(context.Background())
	assert.ErrorIs(t, err, client.ErrTimeout)
	assert.Nil(t, agg.Snapshot())
}

func TestTelemetry_Unauthenticated(t *testing.T) {
	f := newFixture()
	agg := newAggregator(f)
	defer agg.Close()

	_, err := agg.Refresh(context.Background())
	assert.ErrorIs(t, err, client.ErrUnauthenticated)
	assert.Zero(t, f.client.count())
}

func TestTelemetry_SessionChangesResetSnapshot(t *testing.T) {
	f := newFixture()
	f.login(t, "t1")
	stubTelemetry(f.client)
	agg := newAggregator(f)
	defer agg.Close()
	ctx := context.Background()

	_, err := agg.Refresh(ctx)
	require.NoError(t, err)

	require.NoError(t, f.state.SetSession(ctx, "t2", "a@x.com"))
	assert.NotNil(t, agg.Snapshot())

	require.NoError(t, f.state.SetSession(ctx, "t3", "b@x.com"))
	assert.Nil(t, agg.Snapshot())

	_, err = agg.Refresh(ctx)
	require.NoError(t, err)
	require.NoError(t, f.state.Clear(ctx))
	assert.Nil(t, agg.Snapshot())
}

func TestTelemetry_SessionChangedDuringRefresh(t *testing.T) {
	f := newFixture()
	f.login(t, "t1")
	stubTelemetry(f.client)
	gate := f.client.gated(http.MethodGet, "/intelligence/profile", http.StatusOK, `{}`)
	agg := newAggregator(f)
	defer agg.Close()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := agg.Refresh(ctx)
		done <- err
	}()
	waitEntered(t, f.client, "GET /intelligence/profile")

	require.NoError(t, f.state.Clear(ctx))
	close(gate)

	assert.ErrorIs(t, <-done, ErrSessionChanged)
	assert.Nil(t, agg.Snapshot())
}

func TestTelemetry_ConcurrentRefreshesPublishWholeSnapshots(t *testing.T) {
	f := newFixture()
	f.login(t, "t1")
	stubTelemetry(f.client)
	agg := newAggregator(f)
	defer agg.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = agg.Refresh(context.Background())
		}()
	}
	wg.Wait()

	snap := agg.Snapshot()
	require.NotNil(t, snap)
	assert.Len(t, snap.Devices, 2)
	assert.Len(t, snap.Logins, 2)
}

func ts(s string) models.Timestamp {
	t, err := models.ParseTimestamp(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestReconcile(t *testing.T) {
	p := Parts{
		Devices: []models.TrustedDevice{
			{DeviceHash: "h1", Trusted: false, LastSeen: ts("2024-03-01T10:00:00")},
			{DeviceHash: "h2", Trusted: true, LastSeen: ts("2024-03-03T10:00:00")},
			{DeviceHash: "h1", Trusted: true, LastSeen: ts("2024-03-04T10:00:00")},
		},
		Logins: []models.LoginEvent{
			{Timestamp: ts("2024-03-01T10:00:00"), RiskScore: -5},
			{Timestamp: ts("2024-03-04T10:00:00"), RiskScore: 30},
		},
		ImpossibleTravel: &models.ImpossibleTravel{EnoughData: false, Flagged: true},
		Anomaly:          &models.AnomalyScore{Score: 250, Method: "autoenc"},
		Metrics: &models.SecurityMetrics{
			Series:  []models.DailyLoginStats{{Date: "2024-03-01", Success: 2}},
			Totals:  models.LoginTotals{Success: 3},
			Devices: models.DeviceCounts{Trusted: 1, Total: 3},
		},
		GeoLogins: &models.GeoLogins{Logins: []models.GeoLogin{{City: "Riga", Risk: 101}}},
	}

	got := Reconcile("a@x.com", fixedNow, p)

	want := &models.SecuritySnapshot{
		Identity:  "a@x.com",
		FetchedAt: fixedNow,
		Devices: []models.TrustedDevice{
			{DeviceHash: "h1", Trusted: true, LastSeen: ts("2024-03-04T10:00:00")},
			{DeviceHash: "h2", Trusted: true, LastSeen: ts("2024-03-03T10:00:00")},
		},
		Logins: []models.LoginEvent{
			{Timestamp: ts("2024-03-04T10:00:00"), RiskScore: 30},
			{Timestamp: ts("2024-03-01T10:00:00"), RiskScore: 0},
		},
		ImpossibleTravel: models.ImpossibleTravel{EnoughData: false, Flagged: true},
		Anomaly:          models.AnomalyScore{Score: 100, Method: "autoenc"},
		Metrics:          *p.Metrics,
		GeoLogins:        []models.GeoLogin{{City: "Riga", Risk: 100}},
		Inconsistencies: []string{
			"device h1 listed more than once",
			"login at 2024-03-01T10:00:00Z: risk score out of range",
			"impossible travel flagged without enough data",
			"anomaly score out of range",
			"metrics report 3 devices, device list has 2",
			"metrics report 1 trusted devices, device list has 2",
			"metrics totals do not match the daily series",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Reconcile mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, -5, p.Logins[0].RiskScore, "input must not be modified")
}

func TestReconcile_EmptyParts(t *testing.T) {
	got := Reconcile("a@x.com", fixedNow, Parts{})
	assert.Empty(t, got.Devices)
	assert.Empty(t, got.Inconsistencies)
	assert.Zero(t, got.TrustedDeviceCount())
}

func TestPublishSessionEvents(t *testing.T) {
	f := newFixture()
	unsubscribe := PublishSessionEvents(f.state, f.pub, nil)
	ctx := context.Background()

	f.login(t, "t1")
	require.NoError(t, f.state.Clear(ctx))
	unsubscribe()
	f.login(t, "t2")

	assert.Equal(t, []string{events.SessionCommitted, events.SessionCleared}, f.pub.types())
}
