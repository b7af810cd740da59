package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), sc.Text())
		out = append(out, rec)
	}
	return out
}

func TestSlogLogger_LevelsAndAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	ctx := context.Background()

	log.Debug(ctx, "fingerprint computed", "installation", "i-1")
	log.Info(ctx, "session committed", "identity", "a@x.com")
	log.Warn(ctx, "telemetry inconsistencies", "count", 2)
	log.Error(ctx, "bind failed", "status", 500)

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 4)
	assert.Equal(t, "DEBUG", recs[0]["level"])
	assert.Equal(t, "i-1", recs[0]["installation"])
	assert.Equal(t, "INFO", recs[1]["level"])
	assert.Equal(t, "a@x.com", recs[1]["identity"])
	assert.Equal(t, "WARN", recs[2]["level"])
	assert.EqualValues(t, 2, recs[2]["count"])
	assert.Equal(t, "ERROR", recs[3]["level"])
	assert.Equal(t, "bind failed", recs[3]["msg"])
}

func TestSlogLogger_With(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	child := log.With("component", "stepup")
	child.Info(context.TODO(), "transition", "to", "verifying")
	log.Info(context.TODO(), "plain")

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "stepup", recs[0]["component"])
	assert.Equal(t, "verifying", recs[0]["to"])
	assert.NotContains(t, recs[1], "component")
}

func TestNew_RedactsCredentialAttributes(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(FormatJSON, "info", &buf)
	require.NoError(t, err)

	log.With("binding", "bind-0123456789").Info(context.Background(), "login sent",
		"identity", "a@x.com", "Token", "eyJhbGciOiJIUzI1NiJ9.payload", "password", "pw")

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "a@x.com", recs[0]["identity"])
	assert.Equal(t, "bind…", recs[0]["binding"])
	assert.Equal(t, "eyJh…", recs[0]["Token"])
	assert.Equal(t, "***", recs[0]["password"])
	assert.NotContains(t, buf.String(), "payload")

	buf.Reset()
	log, err = New(FormatText, "info", &buf)
	require.NoError(t, err)
	log.Info(context.Background(), "bound", "device_binding", "bind-0123456789")
	assert.Contains(t, buf.String(), "bind…")
	assert.NotContains(t, buf.String(), "0123456789")
}

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := WrapZap(zap.New(core)).With("component", "trust")
	ctx := context.Background()

	log.Debug(ctx, "d")
	log.Info(ctx, "device bound", "device", "h1")
	log.Warn(ctx, "w")
	log.Error(ctx, "e")

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, "device bound", entries[1].Message)
	assert.Equal(t, map[string]any{"component": "trust", "device": "h1"}, entries[1].ContextMap())
	assert.Equal(t, zap.ErrorLevel, entries[3].Level)
}

func TestNewZapLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewZapLogger(&buf, slog.LevelWarn)

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown", "k", "v")

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "shown", recs[0]["msg"])
	assert.Equal(t, "v", recs[0]["k"])
}
