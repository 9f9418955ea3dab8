package dxpipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/dischargedx/chart"
	"github.com/hazyhaar/dischargedx/kit"
	"github.com/hazyhaar/dischargedx/payload"
	"github.com/hazyhaar/dischargedx/safeio"
)

// RegisterMCP registers dischargedx tools on an MCP server.
func (p *Pipeline) RegisterMCP(srv *mcp.Server) {
	p.registerExtractChartTool(srv)
	p.registerResolvePayloadTool(srv)
	p.registerSignaturesTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (p *Pipeline) mcpEndpoint(name string, e kit.Endpoint) kit.Endpoint {
	mws := []kit.Middleware{kit.Logging(p.logger, name)}
	if p.cfg.Audit != nil {
		mws = append(mws, p.cfg.Audit(name))
	}
	return kit.Chain(mws...)(e)
}

// --- extract chart ---

type extractChartReq struct {
	Path string `json:"path"`
}

func (p *Pipeline) registerExtractChartTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "dischargedx_extract_chart",
		Description: "Extract principal diagnoses from the recent discharge summaries of one patient chart export (XML).",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "Path of the patient chart XML file, relative to the configured charts root"},
		}, []string{"path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*extractChartReq)
		if r.Path == "" {
			return nil, errors.New("path is required")
		}
		path, err := safeio.SafePath(p.cfg.ChartsRoot, r.Path)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", r.Path, err)
		}
		res := p.ExtractFile(ctx, path)
		return res.View(), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r extractChartReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request: &r,
			EnrichCtx: func(ctx context.Context) context.Context {
				return kit.WithPatientID(ctx, chart.PatientIDFromPath(r.Path))
			},
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, p.mcpEndpoint(tool.Name, endpoint), decode)
}

// --- resolve payload ---

type resolvePayloadReq struct {
	Body string `json:"body"`
	Ref  string `json:"ref,omitempty"`
}

func (p *Pipeline) registerResolvePayloadTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "dischargedx_resolve_payload",
		Description: "Unwrap one encoded correspondence body (base64 RTF or single-entry zip) and extract its principal diagnosis.",
		InputSchema: inputSchema(map[string]any{
			"body": map[string]any{"type": "string", "description": "Encoded document content"},
			"ref":  map[string]any{"type": "string", "description": "Optional document label used in errors"},
		}, []string{"body"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*resolvePayloadReq)
		ref := r.Ref
		if ref == "" {
			ref = "mcp"
		}
		return p.ResolvePayload(ref, r.Body)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r resolvePayloadReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, p.mcpEndpoint(tool.Name, endpoint), decode)
}

// --- signatures ---

func (p *Pipeline) registerSignaturesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "dischargedx_signatures",
		Description: "List the container and member signatures used to classify payloads.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return map[string]any{"signatures": payload.Signatures()}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, p.mcpEndpoint(tool.Name, endpoint), decode)
}
