package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/policyguard/pkg/catalog"
	"github.com/user/policyguard/pkg/embedding"
	"github.com/user/policyguard/pkg/engine"
	"github.com/user/policyguard/pkg/riskmodel"
)

var (
	forestOnce sync.Once
	forest     *riskmodel.Forest
	forestErr  error
)

func init() {
	gin.SetMode(gin.TestMode)
}

// blockingEmbedder never answers until released.
type blockingEmbedder struct{ release chan struct{} }

func (b blockingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	<-b.release
	return nil, ctx.Err()
}

func (blockingEmbedder) ModelVersion() string { return "blocking" }

func newTestServer(t *testing.T, embedder embedding.Provider) (*Server, *prometheus.Registry) {
	t.Helper()
	forestOnce.Do(func() { forest, forestErr = riskmodel.TrainDefault() })
	require.NoError(t, forestErr)

	reg, err := catalog.LoadBuiltin(nil)
	require.NoError(t, err)
	lib, err := engine.LoadRemediation("", nil)
	require.NoError(t, err)
	if embedder == nil {
		embedder = embedding.NewHashing(128)
	}

	promReg := prometheus.NewRegistry()
	a, err := engine.NewAnalyzer(engine.Deps{
		Catalogs:    reg,
		Embedder:    embedder,
		Classifier:  forest,
		Remediation: lib,
		Logger:      zaptest.NewLogger(t),
		Metrics:     engine.NewMetrics(promReg),
	})
	require.NoError(t, err)

	s := New(a, promReg, zaptest.NewLogger(t))
	s.now = func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) }
	s.newID = func() string { return "analysis-1" }
	return s, promReg
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func postAnalyze(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

const analyzeBody = `{
	"document_id": "policy-7",
	"frameworks": ["iso27001"],
	"clauses": [
		{"text": "Access to systems requires authentication and least privilege.", "section_label": "A.9 Access Control"},
		{"text": "Data is encrypted at rest.", "section_label": "A.10 Cryptography"},
		{"text": "Backups may be tested when possible."}
	]
}`

func TestAnalyzeEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(s, postAnalyze(analyzeBody))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		AnalysisID        string                     `json:"analysis_id"`
		DocumentID        string                     `json:"document_id"`
		AnalyzedAt        time.Time                  `json:"analyzed_at"`
		Frameworks        []string                   `json:"frameworks"`
		ComplianceResults map[string]json.RawMessage `json:"compliance_results"`
		CIAAnalysis       *engine.CIAReport          `json:"cia_analysis"`
		RiskPrediction    engine.RiskPrediction      `json:"risk_prediction"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "analysis-1", resp.AnalysisID)
	assert.Equal(t, "policy-7", resp.DocumentID)
	assert.True(t, resp.AnalyzedAt.Equal(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, []string{"iso27001"}, resp.Frameworks)
	assert.Contains(t, resp.ComplianceResults, "iso27001")
	require.NotNil(t, resp.CIAAnalysis, "include_cia defaults to true")
	assert.Equal(t, 3, resp.CIAAnalysis.TotalClauses)
	assert.NotEqual(t, engine.RiskUnknown, resp.RiskPrediction.RiskLevel)
}

func TestAnalyzeEndpointWithoutCIA(t *testing.T) {
	s, _ := newTestServer(t, nil)

	body := `{"frameworks":["gdpr"],"include_cia":false,"clauses":[{"text":"Personal data is processed lawfully."}]}`
	w := do(s, postAnalyze(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotContains(t, resp, "cia_analysis")
	assert.NotContains(t, resp, "document_id")
}

func TestAnalyzeEndpointErrors(t *testing.T) {
	s, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"clauses": [`, "invalid request"},
		{"no clauses", `{"frameworks":["iso27001"],"clauses":[]}`, "clauses"},
		{"blank clause", `{"frameworks":["iso27001"],"clauses":[{"text":"  "}]}`, "clauses[0].text"},
		{"unknown framework", `{"frameworks":["soc9"],"clauses":[{"text":"x"}]}`, "soc9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(s, postAnalyze(tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestAnalyzeEndpointCancelled(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	s, _ := newTestServer(t, blockingEmbedder{release: release})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	w := do(s, postAnalyze(analyzeBody).WithContext(ctx))

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Contains(t, w.Body.String(), "deadline exceeded")
}

func TestFrameworksEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/frameworks", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Frameworks []FrameworkInfo `json:"frameworks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	ids := make([]string, 0, len(resp.Frameworks))
	for _, fw := range resp.Frameworks {
		ids = append(ids, fw.ID)
		assert.Positive(t, fw.ControlCount, fw.ID)
	}
	assert.Equal(t, []string{"gdpr", "iso27001", "iso9001", "nist"}, ids)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","timestamp":"2026-05-04T10:00:00Z","frameworks":4}`, w.Body.String())

	require.Equal(t, http.StatusOK, do(s, postAnalyze(analyzeBody)).Code)

	w = do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `policyguard_analyses_total{outcome="ok"} 1`)
}

func TestRunShutsDown(t *testing.T) {
	s, _ := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0", time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestAnalyzeRequestDefaults(t *testing.T) {
	var req AnalyzeRequest
	require.NoError(t, json.NewDecoder(bytes.NewBufferString(`{"frameworks":["nist"]}`)).Decode(&req))
	assert.True(t, req.engineRequest().IncludeCIA)

	off := false
	req.IncludeCIA = &off
	assert.False(t, req.engineRequest().IncludeCIA)
}
