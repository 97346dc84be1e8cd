package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/timecontrol/controller"
	"github.com/liamcoop/timecontrol/internal/hub"
	"github.com/liamcoop/timecontrol/nodemanager"
	"github.com/liamcoop/timecontrol/scheduler"
)

const livingNode = `
name: Living room blind
settings:
  timeZone: UTC
  defaultValue: {type: num, value: "100"}
  limits: {floor: 0, ceiling: 100}
rules:
  - name: morning
    time: {type: entered, value: "10:00", operator: from}
    outputType: num
    outputValue: "40"
`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	deps := controller.NewDeps(reg)
	deps.Clock = scheduler.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	h := hub.New(nil)
	go h.Run(ctx)
	deps.Emitter = h

	nodes := nodemanager.NewManager(deps, nil)
	srv := httptest.NewServer(newServer(nodes, h, reg, nil))
	t.Cleanup(func() {
		srv.Close()
		nodes.Shutdown()
		cancel()
	})
	return srv
}

// makeRequest is a helper function for making HTTP requests
func makeRequest(t *testing.T, method, url string, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func putLiving(t *testing.T, srv *httptest.Server) {
	t.Helper()
	resp, body := makeRequest(t, http.MethodPut, srv.URL+"/api/v1/nodes/living", livingNode)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func evaluate(t *testing.T, srv *httptest.Server, node, body string) (*http.Response, controller.Result) {
	t.Helper()
	resp, data := makeRequest(t, http.MethodPost, srv.URL+"/api/v1/nodes/"+node+"/evaluate", body)
	var res controller.Result
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.Unmarshal(data, &res))
	}
	return resp, res
}

// TestHealth verifies the health endpoint reports loaded nodes
func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	putLiving(t, srv)

	resp, body := makeRequest(t, http.MethodGet, srv.URL+"/api/v1/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, 1.0, health["nodesLoaded"])
}

// TestNodeLifecycle verifies nodes can be created, read, listed and deleted
func TestNodeLifecycle(t *testing.T) {
	srv := newTestServer(t)
	putLiving(t, srv)

	resp, body := makeRequest(t, http.MethodGet, srv.URL+"/api/v1/nodes", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list NodesListResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Nodes, 1)
	assert.Equal(t, "living", list.Nodes[0].ID)
	assert.Equal(t, "Living room blind", list.Nodes[0].Name)
	assert.Equal(t, 1, list.Nodes[0].Rules)

	resp, body = makeRequest(t, http.MethodGet, srv.URL+"/api/v1/nodes/living", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var node NodeResponse
	require.NoError(t, json.Unmarshal(body, &node))
	require.Len(t, node.Rules, 1)
	assert.Equal(t, "morning", node.Rules[0].Name)
	assert.True(t, node.Rules[0].Enabled)
	assert.Equal(t, "main", node.Rules[0].Designation)

	resp, _ = makeRequest(t, http.MethodDelete, srv.URL+"/api/v1/nodes/living", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = makeRequest(t, http.MethodGet, srv.URL+"/api/v1/nodes/living", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = makeRequest(t, http.MethodDelete, srv.URL+"/api/v1/nodes/living", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestPutNodeRejectsInvalid verifies invalid definitions are refused with details
func TestPutNodeRejectsInvalid(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"garbage", "/api/v1/nodes/living", "rules: {not: [a list"},
		{"id mismatch", "/api/v1/nodes/living", `{"id": "kitchen"}`},
		{"bad id", "/api/v1/nodes/9lives", `{}`},
		{"unknown output type", "/api/v1/nodes/living", `{"rules": [{"outputType": "bogus"}]}`},
		{"latitude out of range", "/api/v1/nodes/living", `{"settings": {"location": {"latitude": 95}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := makeRequest(t, http.MethodPut, srv.URL+tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var errResp map[string]string
			require.NoError(t, json.Unmarshal(body, &errResp))
			assert.NotEmpty(t, errResp["error"])
		})
	}
}

// TestEvaluateEndpoint verifies the rule result, the override and its reset
func TestEvaluateEndpoint(t *testing.T) {
	srv := newTestServer(t)
	putLiving(t, srv)

	resp, res := evaluate(t, srv, "living", `{"timestamp": "2024-06-01T09:59:00Z"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 100.0, res.Value)
	assert.Equal(t, controller.ReasonDefault, res.Reason.Code)

	_, res = evaluate(t, srv, "living", `{"timestamp": "2024-06-01T10:01:00Z"}`)
	assert.Equal(t, 40.0, res.Value)
	assert.Equal(t, 1, res.Diagnostics.RuleID)
	assert.NotEmpty(t, res.EventID)

	_, res = evaluate(t, srv, "living", `{"timestamp": "2024-06-01T10:02:00Z", "overwrite": {"value": 250, "expire": 60000}}`)
	assert.Equal(t, 100.0, res.Value, "override is limited to the ceiling")
	assert.Equal(t, controller.ReasonOverwrite, res.Reason.Code)
	assert.True(t, res.Diagnostics.Overwrite.Active)

	_, res = evaluate(t, srv, "living", `{"timestamp": "2024-06-01T10:03:00Z", "overwrite": {"reset": true}}`)
	assert.Equal(t, 40.0, res.Value)

	resp, _ = evaluate(t, srv, "ghost", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = evaluate(t, srv, "living", `{"timestamp": 12`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestToggleRule verifies rules can be disabled and enabled over HTTP
func TestToggleRule(t *testing.T) {
	srv := newTestServer(t)
	putLiving(t, srv)

	resp, _ := makeRequest(t, http.MethodPost, srv.URL+"/api/v1/nodes/living/rules/1/disable", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, res := evaluate(t, srv, "living", `{"timestamp": "2024-06-01T10:01:00Z"}`)
	assert.Equal(t, 100.0, res.Value)

	resp, _ = makeRequest(t, http.MethodPost, srv.URL+"/api/v1/nodes/living/rules/1/enable", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, res = evaluate(t, srv, "living", `{"timestamp": "2024-06-01T10:01:00Z"}`)
	assert.Equal(t, 40.0, res.Value)

	resp, _ = makeRequest(t, http.MethodPost, srv.URL+"/api/v1/nodes/living/rules/7/enable", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = makeRequest(t, http.MethodPost, srv.URL+"/api/v1/nodes/living/rules/first/enable", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestMetricsEndpoint verifies evaluation metrics are exposed
func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	putLiving(t, srv)
	evaluate(t, srv, "living", `{"timestamp": "2024-06-01T10:01:00Z"}`)

	resp, body := makeRequest(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "timecontrol_node_evaluations_total"))
}

// TestSubscribeUnknownNode verifies websocket subscriptions need an existing node
func TestSubscribeUnknownNode(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := makeRequest(t, http.MethodGet, srv.URL+"/api/v1/nodes/ghost/ws", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
