package http

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/open-builders/knock-backend/internal/http/middleware"
	"github.com/open-builders/knock-backend/internal/metrics"
)

type submitted struct {
	guildID, interactionID string
	body                   []byte
}

type fakeRelay struct {
	mu   sync.Mutex
	got  []submitted
	full bool
}

func (r *fakeRelay) Submit(guildID, interactionID string, body []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	r.got = append(r.got, submitted{guildID, interactionID, body})
	return true
}

type harness struct {
	app   *fiber.App
	relay *fakeRelay
	priv  ed25519.PrivateKey
}

func newHarness(t *testing.T, checks ...ReadinessCheck) *harness {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	relay := &fakeRelay{}
	app := NewFiberApp(Deps{
		PublicKey: pub,
		Relay:     relay,
		Checks:    checks,
		Gatherer:  reg,
		Log:       zerolog.Nop(),
		Metrics:   metrics.New(reg),
	})
	return &harness{app: app, relay: relay, priv: priv}
}

func (h *harness) post(t *testing.T, body string, sign bool) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/interactions", bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if sign {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		sig := ed25519.Sign(h.priv, append([]byte(ts), body...))
		req.Header.Set(mw.TimestampHeader, ts)
		req.Header.Set(mw.SignatureHeader, hex.EncodeToString(sig))
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

const guildCommand = `{
	"id": "1001",
	"application_id": "55",
	"type": 2,
	"token": "tok",
	"guild_id": "900",
	"channel_id": "901",
	"member": {"user": {"id": "42"}, "permissions": "0"},
	"data": {"id": "1", "name": "knock", "type": 1}
}`

func TestPing(t *testing.T) {
	h := newHarness(t)
	status, out := h.post(t, `{"id":"1","application_id":"55","type":1,"token":"t"}`, true)
	assert.Equal(t, 200, status)
	assert.Equal(t, float64(1), out["type"])
	assert.Empty(t, h.relay.got)
}

func TestGuildCommandIsDeferredAndRelayed(t *testing.T) {
	h := newHarness(t)
	status, out := h.post(t, guildCommand, true)
	assert.Equal(t, 200, status)
	assert.Equal(t, float64(5), out["type"])

	require.Len(t, h.relay.got, 1)
	assert.Equal(t, "900", h.relay.got[0].guildID)
	assert.Equal(t, "1001", h.relay.got[0].interactionID)
	assert.JSONEq(t, guildCommand, string(h.relay.got[0].body))
}

func TestDeviantArtIsDeferredEphemerally(t *testing.T) {
	h := newHarness(t)
	body := `{"id":"1002","application_id":"55","type":2,"token":"tok","guild_id":"900","channel_id":"901",` +
		`"member":{"user":{"id":"42"},"permissions":"0"},` +
		`"data":{"id":"1","name":"deviantart","type":1,"options":[{"name":"username","type":3,"value":"artist"}]}}`
	status, out := h.post(t, body, true)
	assert.Equal(t, 200, status)
	assert.Equal(t, float64(5), out["type"])
	data := out["data"].(map[string]interface{})
	assert.Equal(t, float64(64), data["flags"])
	require.Len(t, h.relay.got, 1)

	// public commands carry no flags
	_, out = h.post(t, guildCommand, true)
	assert.Nil(t, out["data"])
}

func TestCommandOutsideGuild(t *testing.T) {
	h := newHarness(t)
	status, out := h.post(t, `{"id":"1","application_id":"55","type":2,"token":"t","user":{"id":"42"},"data":{"id":"1","name":"knock","type":1}}`, true)
	assert.Equal(t, 200, status)
	assert.Equal(t, float64(4), out["type"])
	data := out["data"].(map[string]interface{})
	assert.Equal(t, guildOnlyMessage, data["content"])
	assert.Equal(t, float64(64), data["flags"])
	assert.Empty(t, h.relay.got)
}

func TestRelayFullAnswersUnavailable(t *testing.T) {
	h := newHarness(t)
	h.relay.full = true
	status, _ := h.post(t, guildCommand, true)
	assert.Equal(t, 503, status)
}

func TestSignatureRequired(t *testing.T) {
	h := newHarness(t)

	status, out := h.post(t, guildCommand, false)
	assert.Equal(t, 401, status)
	assert.Equal(t, "missing signature", out["error"])

	req := httptest.NewRequest(fiber.MethodPost, "/interactions", bytes.NewBufferString(guildCommand))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := ed25519.Sign(h.priv, []byte(ts+`{"tampered":true}`))
	req.Header.Set(mw.TimestampHeader, ts)
	req.Header.Set(mw.SignatureHeader, hex.EncodeToString(sig))
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
	assert.Empty(t, h.relay.got)
}

func TestMalformedAndUnsupported(t *testing.T) {
	h := newHarness(t)
	status, _ := h.post(t, `{not json`, true)
	assert.Equal(t, 400, status)

	status, out := h.post(t, `{"id":"1","application_id":"55","type":3,"token":"t","data":{"custom_id":"x","component_type":2}}`, true)
	assert.Equal(t, 400, status)
	assert.Equal(t, "unsupported interaction type", out["error"])
}

func TestHealthAndReady(t *testing.T) {
	var fail error
	h := newHarness(t,
		ReadinessCheck{Name: "postgres", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "redis", Check: func(context.Context) error { return fail }},
	)

	resp, err := h.app.Test(httptest.NewRequest(fiber.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(mw.RequestIDHeader))

	resp, err = h.app.Test(httptest.NewRequest(fiber.MethodGet, "/ready", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	fail = errors.New("connection refused")
	resp, err = h.app.Test(httptest.NewRequest(fiber.MethodGet, "/ready", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"unavailable","failed":"redis"}`, string(raw))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.post(t, `{"id":"1","application_id":"55","type":1,"token":"t"}`, true)

	resp, err := h.app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), `knock_interactions_total{kind="ping",result="ok"} 1`)
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(fiber.MethodGet, "/health", nil)
	req.Header.Set(mw.RequestIDHeader, "abc-123")
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", resp.Header.Get(mw.RequestIDHeader))
}

func TestOpsAppHasNoInteractionsRoute(t *testing.T) {
	app := NewFiberApp(Deps{Log: zerolog.Nop()})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/interactions", bytes.NewBufferString(guildCommand)), -1)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/ready", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
