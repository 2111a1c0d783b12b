// Package assistant exposes the reporting operations as MCP tools over
// stdio, so conversational clients can query production data without
// going through the HTTP surface.
package assistant

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/prodhub/internal/report"
	"github.com/agentic-research/prodhub/internal/sandbox"
)

// Assistant owns the MCP server wrapping a report service.
type Assistant struct {
	svc *report.Service
	mcp *server.MCPServer
}

// New builds the assistant and registers every tool.
func New(svc *report.Service, version string) *Assistant {
	a := &Assistant{
		svc: svc,
		mcp: server.NewMCPServer("prodhub", version, server.WithToolCapabilities(false)),
	}
	a.registerTools()
	return a
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (a *Assistant) ServeStdio() error {
	return server.ServeStdio(a.mcp)
}

// Server exposes the underlying MCP server for embedding.
func (a *Assistant) Server() *server.MCPServer { return a.mcp }

func (a *Assistant) registerTools() {
	a.mcp.AddTool(mcp.NewTool("get_production_records",
		mcp.WithDescription("Fetch production records, newest first. Supports date range, item code and lot number filters plus cursor pagination."),
		mcp.WithString("date_from", mcp.Description("Start date (YYYY-MM-DD, inclusive)")),
		mcp.WithString("date_to", mcp.Description("End date (YYYY-MM-DD, inclusive)")),
		mcp.WithString("item_code", mcp.Description("Item code substring filter")),
		mcp.WithString("lot_no", mcp.Description("Exact lot number filter")),
		mcp.WithNumber("limit", mcp.Description("Page size, default 100, max 1000")),
		mcp.WithString("cursor", mcp.Description("Opaque cursor from a previous page")),
	), a.handleRecords)

	a.mcp.AddTool(mcp.NewTool("search_items",
		mcp.WithDescription("Search distinct items by code or name substring."),
		mcp.WithString("query", mcp.Description("Search term; empty lists all items")),
		mcp.WithNumber("limit", mcp.Description("Maximum items to return")),
	), a.handleItems)

	a.mcp.AddTool(mcp.NewTool("get_production_summary",
		mcp.WithDescription("Total, count and average produced quantity over a date range."),
		mcp.WithString("date_from", mcp.Required(), mcp.Description("Start date (YYYY-MM-DD)")),
		mcp.WithString("date_to", mcp.Required(), mcp.Description("End date (YYYY-MM-DD)")),
	), a.handleSummary)

	a.mcp.AddTool(mcp.NewTool("get_monthly_trend",
		mcp.WithDescription("Month-by-month production totals over a date range."),
		mcp.WithString("date_from", mcp.Required(), mcp.Description("Start date (YYYY-MM-DD)")),
		mcp.WithString("date_to", mcp.Required(), mcp.Description("End date (YYYY-MM-DD)")),
	), a.handleMonthly)

	a.mcp.AddTool(mcp.NewTool("get_top_items",
		mcp.WithDescription("Items ranked by total produced quantity over a date range."),
		mcp.WithString("date_from", mcp.Required(), mcp.Description("Start date (YYYY-MM-DD)")),
		mcp.WithString("date_to", mcp.Required(), mcp.Description("End date (YYYY-MM-DD)")),
		mcp.WithNumber("limit", mcp.Description("Number of items, default 100")),
	), a.handleTopItems)

	a.mcp.AddTool(mcp.NewTool("run_query",
		mcp.WithDescription("Run a read-only SELECT against the production data. Only the production_records table (and its archive.production_records copy) is queryable; writes and schema statements are rejected."),
		mcp.WithString("query", mcp.Required(), mcp.Description("A single SELECT statement")),
	), a.handleQuery)

	a.mcp.AddTool(mcp.NewTool("get_cache_stats",
		mcp.WithDescription("Result cache occupancy and hit counters."),
	), a.handleCacheStats)
}

func toolJSON(v any) *mcp.CallToolResult {
	b, _ := oj.Marshal(v)
	return mcp.NewToolResultText(string(b))
}

func (a *Assistant) handleRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := a.svc.Records(ctx, report.RecordsQuery{
		DateFrom: req.GetString("date_from", ""),
		DateTo:   req.GetString("date_to", ""),
		ItemCode: req.GetString("item_code", ""),
		LotNo:    req.GetString("lot_no", ""),
		Limit:    req.GetInt("limit", 0),
		Cursor:   req.GetString("cursor", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolJSON(page), nil
}

func (a *Assistant) handleItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := a.svc.SearchItems(ctx, req.GetString("query", ""), req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolJSON(map[string]any{"data": items, "count": len(items)}), nil
}

func (a *Assistant) rangeArgs(req mcp.CallToolRequest) (string, string, error) {
	from, err := req.RequireString("date_from")
	if err != nil {
		return "", "", err
	}
	to, err := req.RequireString("date_to")
	if err != nil {
		return "", "", err
	}
	return from, to, nil
}

func (a *Assistant) handleSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, to, err := a.rangeArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sum, err := a.svc.Summary(ctx, from, to)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolJSON(sum), nil
}

func (a *Assistant) handleMonthly(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, to, err := a.rangeArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	trend, err := a.svc.MonthlyTrend(ctx, from, to)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolJSON(map[string]any{"data": trend, "count": len(trend)}), nil
}

func (a *Assistant) handleTopItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, to, err := a.rangeArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	top, err := a.svc.TopItems(ctx, from, to, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolJSON(map[string]any{"data": top, "count": len(top)}), nil
}

func (a *Assistant) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := a.svc.RunQuery(ctx, query)
	if err != nil {
		var reject *sandbox.RejectError
		if errors.As(err, &reject) {
			return mcp.NewToolResultError(reject.Error()), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolJSON(res), nil
}

func (a *Assistant) handleCacheStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolJSON(a.svc.CacheStats()), nil
}
