package dxpipe

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/dischargedx/kit"
)

var testMCPImpl = &mcp.Implementation{Name: "dischargedx-test", Version: "0.1.0"}

func mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	return mcpSessionWith(t, testConfig(nil))
}

func mcpSessionWith(t *testing.T, cfg Config) *mcp.ClientSession {
	t.Helper()
	pipe := New(cfg)
	srv := mcp.NewServer(testMCPImpl, nil)
	pipe.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return result
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result := mcpCall(t, session, name, args)
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

// --- dischargedx_signatures ---

func TestMCP_Signatures(t *testing.T) {
	session := mcpSession(t)

	text := mcpCallTool(t, session, "dischargedx_signatures", map[string]any{})
	var resp struct {
		Signatures []struct {
			Layer string `json:"layer"`
			Name  string `json:"name"`
			Magic string `json:"magic"`
		} `json:"signatures"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Signatures) != 5 {
		t.Fatalf("expected 5 signatures, got %d", len(resp.Signatures))
	}
	if resp.Signatures[0].Magic != "e1xyd" || resp.Signatures[1].Magic != "UEsDB" {
		t.Errorf("container signatures = %+v", resp.Signatures[:2])
	}
}

// --- dischargedx_resolve_payload ---

func TestMCP_ResolvePayload(t *testing.T) {
	session := mcpSession(t)

	text := mcpCallTool(t, session, "dischargedx_resolve_payload", map[string]any{
		"body": rtfBody("PRINCIPAL DIAGNOSIS", "", "- Pneumonia"),
	})
	var view PayloadView
	if err := json.Unmarshal([]byte(text), &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view.Kind != "rtf" || len(view.Diagnoses) != 1 || view.Diagnoses[0] != "Pneumonia" {
		t.Fatalf("view = %+v", view)
	}
}

func TestMCP_ResolvePayload_Undeclared(t *testing.T) {
	session := mcpSession(t)

	result := mcpCall(t, session, "dischargedx_resolve_payload", map[string]any{"body": "QQQQQ", "ref": "doc-9"})
	err := result.GetError()
	if err == nil {
		t.Fatal("expected tool error")
	}
	if !strings.Contains(err.Error(), "undeclared file header") || !strings.Contains(err.Error(), "doc-9") {
		t.Fatalf("tool error = %v", err)
	}
}

// --- dischargedx_extract_chart ---

func TestMCP_ExtractChart(t *testing.T) {
	root := t.TempDir()
	writeChart(t, root, "Doe John 19181111", chartXML(chartOpts{},
		sepsisDoc("501", "26/07/2024 10:30:00 AM"),
	))
	cfg := testConfig(nil)
	cfg.ChartsRoot = root
	session := mcpSessionWith(t, cfg)

	text := mcpCallTool(t, session, "dischargedx_extract_chart", map[string]any{"path": "Doe John 19181111.xml"})
	var resp struct {
		PatientID string `json:"patient_id"`
		Status    string `json:"status"`
		Records   []struct {
			Diagnosis   string `json:"diagnosis"`
			DocumentRef string `json:"document_ref"`
		} `json:"records"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.PatientID != "Doe John 19181111" || resp.Status != StatusOK {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Records) != 1 || resp.Records[0].Diagnosis != "Sepsis" {
		t.Fatalf("records = %+v", resp.Records)
	}
}

func TestMCP_ExtractChart_ConfinedToChartsRoot(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "charts")
	os.MkdirAll(root, 0o755)
	writeChart(t, base, "outside", chartXML(chartOpts{}, sepsisDoc("1", "26/07/2024 10:30:00 AM")))

	cfg := testConfig(nil)
	cfg.ChartsRoot = root
	session := mcpSessionWith(t, cfg)

	for _, path := range []string{"../outside.xml", "sub/../../outside.xml"} {
		err := mcpCall(t, session, "dischargedx_extract_chart", map[string]any{"path": path}).GetError()
		if err == nil || !strings.Contains(err.Error(), "escapes root") {
			t.Fatalf("path %q: tool error = %v, want traversal rejection", path, err)
		}
	}

	// An absolute path is read relative to the root, not from the filesystem root.
	text := mcpCallTool(t, session, "dischargedx_extract_chart", map[string]any{"path": filepath.Join(base, "outside.xml")})
	if !strings.Contains(text, `"status":"unreadable"`) {
		t.Fatalf("absolute path escaped the root: %s", text)
	}
}

func TestMCP_ExtractChart_MissingPath(t *testing.T) {
	session := mcpSession(t)
	if err := mcpCall(t, session, "dischargedx_extract_chart", map[string]any{"path": ""}).GetError(); err == nil {
		t.Fatal("expected tool error for empty path")
	}
}

func TestMCP_AuditHook(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	cfg := testConfig(nil)
	cfg.Audit = func(op string) kit.Middleware {
		return func(next kit.Endpoint) kit.Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				resp, err := next(ctx, req)
				mu.Lock()
				calls = append(calls, op+"/"+kit.GetTransport(ctx))
				mu.Unlock()
				return resp, err
			}
		}
	}
	session := mcpSessionWith(t, cfg)
	mcpCallTool(t, session, "dischargedx_signatures", map[string]any{})

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 || calls[0] != "dischargedx_signatures/mcp" {
		t.Fatalf("audited calls = %q", calls)
	}
}
