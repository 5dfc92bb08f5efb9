package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexmarketing/contentpipeline/pipeline/audit"
	"github.com/apexmarketing/contentpipeline/pipeline/capability"
	"github.com/apexmarketing/contentpipeline/pipeline/config"
	"github.com/apexmarketing/contentpipeline/pipeline/deliverable"
	"github.com/apexmarketing/contentpipeline/pipeline/events"
	"github.com/apexmarketing/contentpipeline/pipeline/queue"
	"github.com/apexmarketing/contentpipeline/pipeline/service"
	"github.com/apexmarketing/contentpipeline/pipeline/stages"
	"github.com/apexmarketing/contentpipeline/pipeline/store"
	"github.com/apexmarketing/contentpipeline/pipeline/testutil"
)

func newTestServer(t *testing.T) (*httptest.Server, *testutil.MockCompletion) {
	t.Helper()
	logger := testutil.NewRecordingLogger()
	mock := testutil.NewMockCompletion()
	settings := config.DefaultSettings()
	registry, err := capability.NewRegistry(mock, settings, logger)
	require.NoError(t, err)
	mem := store.NewMemory()
	bus := events.NewBus(logger)
	st := stages.New(mem, registry, settings, bus, logger)
	coordinator := audit.NewCoordinator(mem, mem, registry, settings, bus, logger)
	pipeline := service.New(mem, st, coordinator, queue.NewInline(), settings, logger)

	ts := httptest.NewServer(New(pipeline, logger).Handler())
	t.Cleanup(ts.Close)
	return ts, mock
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAndFetchDeliverable(t *testing.T) {
	ts, mock := newTestServer(t)
	mock.WithResponse("content_engine", "generated article")

	resp := postJSON(t, ts.URL+"/v1/deliverables", map[string]string{
		"kind": "article",
		"task": "Write about local SEO for dentists",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	created := decode[deliverable.Deliverable](t, resp)
	require.NotEmpty(t, created.ID)

	getResp, err := http.Get(ts.URL + "/v1/deliverables/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	fetched := decode[deliverable.Deliverable](t, getResp)
	assert.Equal(t, "generated article", fetched.Body)
	assert.Equal(t, deliverable.StatusDraft, fetched.Status)
}

func TestCreateDeliverableBadKind(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/v1/deliverables", map[string]string{
		"kind": "carrier_pigeon",
		"task": "deliver a message",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFetchMissingDeliverable(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v1/deliverables/no-such-id")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReviewAndResolveOverHTTP(t *testing.T) {
	ts, mock := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/deliverables", map[string]string{"kind": "article", "task": "write"})
	created := decode[deliverable.Deliverable](t, resp)

	mock.WithReview(capability.AgentBrandVoice, "APPROVE", 9, "good")
	mock.WithReview(capability.AgentQualityGate, "APPROVE", 9, "good")
	reviewResp := postJSON(t, ts.URL+"/v1/deliverables/"+created.ID+"/review", map[string]string{})
	require.Equal(t, http.StatusAccepted, reviewResp.StatusCode)
	reviewResp.Body.Close()

	resolveResp := postJSON(t, ts.URL+"/v1/deliverables/"+created.ID+"/resolve", map[string]any{"approve": true})
	require.Equal(t, http.StatusOK, resolveResp.StatusCode)
	resolved := decode[deliverable.Deliverable](t, resolveResp)
	assert.Equal(t, deliverable.StatusApproved, resolved.Status)
}

func TestAuditRunOverHTTP(t *testing.T) {
	ts, mock := newTestServer(t)
	mock.WithReview(capability.AgentQualityGate, "APPROVE", 8, "solid")

	resp := postJSON(t, ts.URL+"/v1/audits", map[string]string{
		"client_id":      "client-9",
		"client_profile": "B2B SaaS, founder-led sales.",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	run := decode[audit.Run](t, resp)
	require.NotEmpty(t, run.ID)

	getResp, err := http.Get(ts.URL + "/v1/audits/" + run.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	fetched := decode[audit.Run](t, getResp)
	assert.Equal(t, audit.RunCompleted, fetched.State)
	assert.Equal(t, 8.0, fetched.GateScore)
}

func TestPreAuditOverHTTP(t *testing.T) {
	ts, mock := newTestServer(t)
	mock.WithResponse("infrastructure_auditor", "findings")

	resp := postJSON(t, ts.URL+"/v1/pre-audits", map[string]string{
		"client_id":      "prospect-2",
		"client_profile": "Local florist, Instagram only.",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	d := decode[deliverable.Deliverable](t, resp)
	assert.Equal(t, deliverable.KindPreAudit, d.Kind)
}
