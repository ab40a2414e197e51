package mcp_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/policyguard/pkg/catalog"
	"github.com/user/policyguard/pkg/embedding"
	"github.com/user/policyguard/pkg/engine"
	mcpserver "github.com/user/policyguard/pkg/mcp"
	"github.com/user/policyguard/pkg/riskmodel"
)

var (
	forestOnce sync.Once
	forest     *riskmodel.Forest
	forestErr  error
)

func newTestServer(t *testing.T) *mcpserver.Server {
	t.Helper()
	forestOnce.Do(func() { forest, forestErr = riskmodel.TrainDefault() })
	require.NoError(t, forestErr)

	reg, err := catalog.LoadBuiltin(nil)
	require.NoError(t, err)
	lib, err := engine.LoadRemediation("", nil)
	require.NoError(t, err)

	a, err := engine.NewAnalyzer(engine.Deps{
		Catalogs:    reg,
		Embedder:    embedding.NewHashing(128),
		Classifier:  forest,
		Remediation: lib,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return mcpserver.NewServer(a, "test", zaptest.NewLogger(t))
}

func connectInMemory(t *testing.T, ctx context.Context, srv *mcpserver.Server) *sdkmcp.ClientSession {
	t.Helper()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer.Connect(ctx, t1, nil)
	require.NoError(t, err)
	t.Cleanup(func() { serverSession.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

// callTool returns the tool's JSON text payload and whether it was an error.
func callTool(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*sdkmcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return tc.Text, res.IsError
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestListTools(t *testing.T) {
	ctx := testContext(t)
	session := connectInMemory(t, ctx, newTestServer(t))

	res, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"analyze_policy", "list_frameworks", "map_control"}, names)
}

func TestAnalyzePolicyTool(t *testing.T) {
	ctx := testContext(t)
	session := connectInMemory(t, ctx, newTestServer(t))

	text, isErr := callTool(t, ctx, session, "analyze_policy", map[string]any{
		"document_id": "policy-1",
		"frameworks":  []string{"iso27001"},
		"clauses": []map[string]any{
			{"text": "Access to systems requires authentication and least privilege.", "section_label": "A.9 Access Control"},
			{"text": "Data is encrypted at rest.", "section_label": "A.10 Cryptography"},
			{"text": "Backups may be tested when possible."},
		},
	})
	require.False(t, isErr, text)

	var out struct {
		OverallCCI float64 `json:"overall_cci"`
		Grade      string  `json:"grade"`
		RiskLevel  string  `json:"risk_level"`
		Frameworks []struct {
			ID              string   `json:"id"`
			CCI             float64  `json:"cci"`
			MissingControls []string `json:"missing_controls"`
		} `json:"frameworks"`
		CIA *struct {
			Rating string `json:"rating"`
		} `json:"cia"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &out))

	require.Len(t, out.Frameworks, 1)
	assert.Equal(t, "iso27001", out.Frameworks[0].ID)
	assert.Equal(t, out.OverallCCI, out.Frameworks[0].CCI)
	assert.NotEmpty(t, out.Frameworks[0].MissingControls)
	assert.Contains(t, []string{"Excellent", "Good", "Fair", "Poor"}, out.Grade)
	assert.Contains(t, []string{"Low", "Medium", "High"}, out.RiskLevel)
	require.NotNil(t, out.CIA)
	assert.NotEmpty(t, out.CIA.Rating)
}

func TestAnalyzePolicySkipCIA(t *testing.T) {
	ctx := testContext(t)
	session := connectInMemory(t, ctx, newTestServer(t))

	text, isErr := callTool(t, ctx, session, "analyze_policy", map[string]any{
		"frameworks": []string{"gdpr"},
		"clauses":    []map[string]any{{"text": "Personal data is encrypted in transit."}},
		"skip_cia":   true,
	})
	require.False(t, isErr, text)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	assert.NotContains(t, out, "cia")
}

func TestAnalyzePolicyInvalidInput(t *testing.T) {
	ctx := testContext(t)
	session := connectInMemory(t, ctx, newTestServer(t))

	for name, args := range map[string]map[string]any{
		"no clauses": {
			"frameworks": []string{"gdpr"},
			"clauses":    []map[string]any{},
		},
		"unknown framework": {
			"frameworks": []string{"soc9"},
			"clauses":    []map[string]any{{"text": "Access is reviewed quarterly."}},
		},
	} {
		text, isErr := callTool(t, ctx, session, "analyze_policy", args)
		assert.True(t, isErr, name)
		assert.Contains(t, text, "invalid input", name)
	}
}

func TestListFrameworksTool(t *testing.T) {
	ctx := testContext(t)
	session := connectInMemory(t, ctx, newTestServer(t))

	text, isErr := callTool(t, ctx, session, "list_frameworks", map[string]any{})
	require.False(t, isErr, text)

	var out struct {
		Frameworks []struct {
			ID           string `json:"id"`
			ControlCount int    `json:"control_count"`
		} `json:"frameworks"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &out))

	ids := make([]string, 0, len(out.Frameworks))
	for _, fw := range out.Frameworks {
		ids = append(ids, fw.ID)
		assert.Positive(t, fw.ControlCount, fw.ID)
	}
	assert.Subset(t, ids, []string{"gdpr", "iso27001", "nist"})
}

func TestMapControlTool(t *testing.T) {
	ctx := testContext(t)
	session := connectInMemory(t, ctx, newTestServer(t))

	text, isErr := callTool(t, ctx, session, "map_control", map[string]any{"control": "GDPR:Art.32"})
	require.False(t, isErr, text)

	var out struct {
		Control     string `json:"control"`
		Equivalents []struct {
			Ref  string `json:"ref"`
			Hops int    `json:"hops"`
		} `json:"equivalents"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	assert.Equal(t, "gdpr:Art.32", out.Control)

	hops := map[string]int{}
	for _, e := range out.Equivalents {
		hops[e.Ref] = e.Hops
	}
	assert.Equal(t, 1, hops["iso27001:A.9"])
	assert.Equal(t, 1, hops["iso27001:A.10"])
	assert.Equal(t, 1, hops["nist:PR.AA"])
}

func TestMapControlUnknown(t *testing.T) {
	ctx := testContext(t)
	session := connectInMemory(t, ctx, newTestServer(t))

	for _, ref := range []string{"nocolon", "ghost:X.1", "gdpr:Art.999"} {
		text, isErr := callTool(t, ctx, session, "map_control", map[string]any{"control": ref})
		assert.True(t, isErr, ref)
		assert.NotEmpty(t, text, ref)
	}
}
