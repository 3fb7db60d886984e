// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes refdraft tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/refdraft/internal/apperr"
	"github.com/starford/refdraft/internal/duplicate"
	"github.com/starford/refdraft/internal/itemservice"
	"github.com/starford/refdraft/internal/models"
	"github.com/starford/refdraft/internal/refgraph"
	"github.com/starford/refdraft/internal/viewcache"
)

const importFormatURI = "refdraft://import-format"

// ItemService is the domain surface the tools use.
type ItemService interface {
	List(ctx context.Context, f viewcache.Filter) ([]models.SavedItem, error)
	Get(ctx context.Context, id string) (models.SavedItem, error)
	Save(ctx context.Context, in itemservice.SaveInput) (itemservice.SaveResult, error)
	CheckDuplicate(content string, live bool) *duplicate.Prompt
	LinkedReferences(ctx context.Context, id string) ([]models.SavedItem, error)
	Usage(ctx context.Context, id string) (refgraph.Usage, error)
}

var _ ItemService = (*itemservice.Service)(nil)

// Server wraps the MCP server with refdraft tools.
type Server struct {
	mcp *server.MCPServer
	svc ItemService
}

// New creates a new MCP server with all refdraft tools registered.
func New(svc ItemService, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"refdraft",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_items",
		mcp.WithDescription("List live drafts and references, newest first. All filters are optional and combine with AND."),
		mcp.WithString("kind", mcp.Description("authored or reference"), mcp.Enum(string(models.KindAuthored), string(models.KindReference))),
		mcp.WithString("reference_type", mcp.Description("structure, idea or unspecified"),
			mcp.Enum(string(models.ReferenceStructure), string(models.ReferenceIdea), string(models.ReferenceUnspecified))),
		mcp.WithString("topic", mcp.Description("Exact topic")),
		mcp.WithString("platform", mcp.Description("Only items tagged with this platform")),
		mcp.WithString("search", mcp.Description("Whitespace-separated terms; all must appear in content or topic")),
		mcp.WithString("usage", mcp.Description("used or unused (references cited by at least one draft, or by none)"),
			mcp.Enum(string(viewcache.UsageUsed), string(viewcache.UsageUnused))),
	), s.listItems)

	s.mcp.AddTool(mcp.NewTool("read_item",
		mcp.WithDescription("Read one item by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Item id")),
	), s.readItem)

	s.mcp.AddTool(mcp.NewTool("check_duplicate",
		mcp.WithDescription("Check whether text duplicates a stored reference. Whitespace differences are ignored, case is not."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Candidate reference text")),
	), s.checkDuplicate)

	s.mcp.AddTool(mcp.NewTool("save_reference",
		mcp.WithDescription("Save a reference snippet. If it duplicates a stored reference nothing is saved "+
			"and the existing item is returned; pass save_anyway to store it regardless."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Reference text")),
		mcp.WithString("reference_type", mcp.Description("structure, idea or unspecified (default)"),
			mcp.Enum(string(models.ReferenceStructure), string(models.ReferenceIdea), string(models.ReferenceUnspecified))),
		mcp.WithString("topic", mcp.Description("Topic label")),
		mcp.WithArray("platforms", mcp.Description("Platform tags"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithBoolean("save_anyway", mcp.Description("Store even if a duplicate exists")),
	), s.saveReference)

	s.mcp.AddTool(mcp.NewTool("save_draft",
		mcp.WithDescription("Save an authored draft. Linked reference ids that do not resolve to a live reference are dropped and reported."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Draft text")),
		mcp.WithArray("linked_reference_ids", mcp.Description("Ids of the references this draft builds on"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("topic", mcp.Description("Topic label")),
		mcp.WithArray("platforms", mcp.Description("Platform tags"), mcp.Items(map[string]any{"type": "string"})),
	), s.saveDraft)

	s.mcp.AddTool(mcp.NewTool("get_linked_references",
		mcp.WithDescription("List the live references a draft cites, in link order."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Draft id")),
	), s.getLinkedReferences)

	s.mcp.AddTool(mcp.NewTool("get_reference_usage",
		mcp.WithDescription("List the live drafts citing a reference, newest first."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Reference id")),
	), s.getReferenceUsage)

	s.mcp.AddTool(mcp.NewTool("get_import_contract",
		mcp.WithDescription("Returns the Markdown format accepted by the import inbox. "+
			"Call this before preparing files for import."),
	), s.getImportContract)

	// Resource: import format contract.
	s.mcp.AddResource(
		mcp.NewResource(importFormatURI, "Import Format Contract",
			mcp.WithResourceDescription("Markdown format accepted by the import inbox."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readImportFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := viewcache.Filter{
		Kind:          models.Kind(req.GetString("kind", "")),
		ReferenceType: models.ReferenceType(req.GetString("reference_type", "")),
		Topic:         req.GetString("topic", ""),
		Search:        req.GetString("search", ""),
		Usage:         viewcache.UsageFilter(req.GetString("usage", "")),
	}
	if p := req.GetString("platform", ""); p != "" {
		f.PlatformMode, f.Platform = viewcache.PlatformHas, p
	}
	items, err := s.svc.List(ctx, f)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(items), nil
}

func (s *Server) readItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	it, err := s.svc.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return jsonResult(it), nil
}

func (s *Server) checkDuplicate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p := s.svc.CheckDuplicate(content, false)
	if p == nil {
		return mcp.NewToolResultText("no duplicate found"), nil
	}
	return jsonResult(p), nil
}

func (s *Server) saveReference(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Save(ctx, itemservice.SaveInput{
		Kind:          models.KindReference,
		Content:       content,
		ReferenceType: models.ReferenceType(req.GetString("reference_type", "")),
		Topic:         req.GetString("topic", ""),
		Platforms:     req.GetStringSlice("platforms", nil),
		SaveAnyway:    req.GetBool("save_anyway", false),
	})
	if err != nil {
		return errorResult(err), nil
	}
	if res.Duplicate != nil {
		out, _ := json.MarshalIndent(res.Duplicate, "", "  ")
		return mcp.NewToolResultError("duplicate of an existing reference; not saved\n" + string(out)), nil
	}
	return jsonResult(res.Item), nil
}

func (s *Server) saveDraft(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Save(ctx, itemservice.SaveInput{
		Kind:               models.KindAuthored,
		Content:            content,
		LinkedReferenceIDs: req.GetStringSlice("linked_reference_ids", nil),
		Topic:              req.GetString("topic", ""),
		Platforms:          req.GetStringSlice("platforms", nil),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) getLinkedReferences(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	refs, err := s.svc.LinkedReferences(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(refs), nil
}

func (s *Server) getReferenceUsage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	u, err := s.svc.Usage(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(u), nil
}

func (s *Server) getImportContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ImportFormatContract), nil
}

func (s *Server) readImportFormatResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      importFormatURI,
			MIMEType: "text/markdown",
			Text:     ImportFormatContract,
		},
	}, nil
}
