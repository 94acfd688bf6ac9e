package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upb/agent-governance/app"
	"github.com/upb/agent-governance/config"
	"github.com/upb/agent-governance/internal/auth"
)

const (
	adminKey    = "admin-key"
	employeeKey = "employee-key"
	viewerKey   = "viewer-key"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	adminHash, err := auth.HashKey(adminKey)
	require.NoError(t, err)
	employeeHash, err := auth.HashKey(employeeKey)
	require.NoError(t, err)
	viewerHash, err := auth.HashKey(viewerKey)
	require.NoError(t, err)

	governance := fmt.Sprintf(`
policy:
  deny_tools: [rm_rf]
auth:
  static_keys:
    - id: svc-admin
      role: admin
      hash: %q
    - id: svc-employee
      role: employee
      hash: %q
    - id: svc-viewer
      role: viewer
      hash: %q
`, adminHash, employeeHash, viewerHash)

	project := filepath.Join(t.TempDir(), ".governance.yaml")
	require.NoError(t, os.WriteFile(project, []byte(governance), 0o600))

	cfg := &config.Config{
		Environment:   "test",
		Store:         "memory",
		Governance:    config.GovernancePaths{ProjectFile: project},
		Audit:         config.AuditConfig{Workers: 1, BufferSize: 16},
		Observability: config.ObservabilityConfig{LogLevel: "debug", MetricsEnabled: true},
	}
	deps, err := app.NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	srv := httptest.NewServer(SetupRoutes(deps))
	t.Cleanup(func() {
		srv.Close()
		_ = deps.Close(context.Background())
	})
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, key, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestPublicEndpoints(t *testing.T) {
	srv := newServer(t)

	resp, _ := do(t, srv, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, body := do(t, srv, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	checks := body["data"].(map[string]interface{})["checks"].(map[string]interface{})
	assert.Equal(t, "healthy", checks["governance_config"])

	resp, _ = do(t, srv, http.MethodGet, "/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newServer(t)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIRequiresAuth(t *testing.T) {
	srv := newServer(t)

	resp, _ := do(t, srv, http.MethodGet, "/api/v1/agents", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/api/v1/agents", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := do(t, srv, http.MethodGet, "/api/v1/agents", viewerKey, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"], 2)
}

func TestCapabilities(t *testing.T) {
	srv := newServer(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
	}{
		{"viewer cannot create sessions", http.MethodPost, "/api/v1/sessions", `{"title":"x"}`, http.StatusForbidden},
		{"viewer cannot read audit logs", http.MethodGet, "/api/v1/audit/logs", "", http.StatusForbidden},
		{"viewer cannot reply to permissions", http.MethodGet, "/api/v1/permissions", "", http.StatusForbidden},
		{"viewer cannot spawn agents", http.MethodPost, "/api/v1/sessions/abc/tasks", `{"tasks":[]}`, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, srv, tt.method, tt.path, viewerKey, tt.body)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv := newServer(t)

	resp, body := do(t, srv, http.MethodPost, "/api/v1/sessions", adminKey, `{"title":"investigate"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["data"].(map[string]interface{})["id"].(string)

	resp, body = do(t, srv, http.MethodGet, "/api/v1/sessions/"+id, adminKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "investigate", body["data"].(map[string]interface{})["title"])

	resp, _ = do(t, srv, http.MethodGet, "/api/v1/sessions/"+id, viewerKey, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	t.Run("dispatch without a runtime reports the failure per task", func(t *testing.T) {
		batch := `{"tasks":[{"description":"look","prompt":"list files","subagent_type":"explore"}]}`
		resp, body := do(t, srv, http.MethodPost, "/api/v1/sessions/"+id+"/tasks", adminKey, batch)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		data := body["data"].(map[string]interface{})
		assert.Equal(t, float64(1), data["failed"])

		resp, body = do(t, srv, http.MethodGet, "/api/v1/sessions/"+id+"/children", adminKey, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, body["data"], 1)
	})

	t.Run("owner and auditors can read the session trail", func(t *testing.T) {
		resp, body := do(t, srv, http.MethodGet, "/api/v1/sessions/"+id+"/audit", adminKey, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, body["data"])

		resp, _ = do(t, srv, http.MethodGet, "/api/v1/sessions/"+id+"/audit", viewerKey, "")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	resp, _ = do(t, srv, http.MethodDelete, "/api/v1/sessions/"+id, adminKey, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/api/v1/sessions/"+id, adminKey, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionsAreScopedToTheirOwner(t *testing.T) {
	srv := newServer(t)

	resp, body := do(t, srv, http.MethodPost, "/api/v1/sessions", employeeKey, `{"title":"mine"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["data"].(map[string]interface{})["id"].(string)

	resp, _ = do(t, srv, http.MethodGet, "/api/v1/sessions/"+id, employeeKey, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, srv, http.MethodPost, "/api/v1/sessions", adminKey, `{"title":"theirs"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	other := body["data"].(map[string]interface{})["id"].(string)

	denied := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"get", http.MethodGet, "/api/v1/sessions/" + other, ""},
		{"children", http.MethodGet, "/api/v1/sessions/" + other + "/children", ""},
		{"dispatch", http.MethodPost, "/api/v1/sessions/" + other + "/tasks",
			`{"tasks":[{"description":"look","prompt":"list files","subagent_type":"explore"}]}`},
		{"child session", http.MethodPost, "/api/v1/sessions", `{"title":"sneak","parent_id":"` + other + `"}`},
		{"delete", http.MethodDelete, "/api/v1/sessions/" + other, ""},
	}
	for _, tt := range denied {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, srv, tt.method, tt.path, employeeKey, tt.body)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}

	resp, _ = do(t, srv, http.MethodGet, "/api/v1/sessions/"+other, adminKey, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodGet, "/api/v1/sessions/"+id, adminKey, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
