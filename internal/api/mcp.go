package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/clawkpit/internal/agentcontent"
	"github.com/kalambet/clawkpit/internal/auth"
	"github.com/kalambet/clawkpit/internal/board"
	"github.com/kalambet/clawkpit/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Board   *board.Service
	Content *agentcontent.Ingestor
}

// NewMCPServer creates an MCP server exposing the board to agents.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"clawkpit",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("clawkpit: a task board shared between you and your human. Push reading material and forms, file tasks, and leave notes."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("push_markdown",
			mcp.WithDescription("Push a markdown document for the human to read. Pushing again with the same external_id updates it in place."),
			mcp.WithString("body", mcp.Description("Markdown body; the first level-one heading becomes the title"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Explicit title")),
			mcp.WithString("external_id", mcp.Description("Your stable id for this document")),
		),
		mcpPush(deps, storage.ContentMarkdown),
	)

	s.AddTool(
		mcp.NewTool("push_form",
			mcp.WithDescription("Push a form for the human to fill in. The item is marked done when they respond."),
			mcp.WithString("body", mcp.Description("Form definition"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Explicit title")),
			mcp.WithString("external_id", mcp.Description("Your stable id for this form")),
		),
		mcpPush(deps, storage.ContentForm),
	)

	s.AddTool(
		mcp.NewTool("create_item",
			mcp.WithDescription("Create a board item."),
			mcp.WithString("title", mcp.Description("Item title"), mcp.Required()),
			mcp.WithString("description", mcp.Description("Longer description")),
			mcp.WithString("tag", mcp.Enum("ToRead", "ToThinkAbout", "ToUse", "ToDo")),
			mcp.WithString("urgency", mcp.Enum("DoNow", "DoToday", "DoThisWeek", "DoLater", "Unclear")),
			mcp.WithString("importance", mcp.Enum("High", "Medium", "Low")),
			mcp.WithString("deadline", mcp.Description("RFC 3339 timestamp")),
		),
		mcpCreateItem(deps),
	)

	s.AddTool(
		mcp.NewTool("list_items",
			mcp.WithDescription("List board items, most pressing first."),
			mcp.WithString("status", mcp.Enum("Active", "Done", "Dropped", "All")),
			mcp.WithString("tag", mcp.Enum("ToRead", "ToThinkAbout", "ToUse", "ToDo")),
			mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
			mcp.WithNumber("page_size", mcp.Description("Items per page (default 50)")),
		),
		mcpListItems(deps),
	)

	s.AddTool(
		mcp.NewTool("add_note",
			mcp.WithDescription("Append a note to an item."),
			mcp.WithString("item_id", mcp.Required()),
			mcp.WithString("content", mcp.Required()),
		),
		mcpAddNote(deps),
	)

	s.AddTool(
		mcp.NewTool("mark_done",
			mcp.WithDescription("Mark an item done. Items tagged ToThinkAbout need a note first."),
			mcp.WithString("item_id", mcp.Required()),
		),
		mcpMarkDone(deps),
	)

	s.AddTool(
		mcp.NewTool("drop_item",
			mcp.WithDescription("Drop an item. A note explaining why is required unless the item already has one."),
			mcp.WithString("item_id", mcp.Required()),
			mcp.WithString("note", mcp.Description("Why the item is dropped")),
		),
		mcpDropItem(deps),
	)

	return s
}

// NewMCPHandler serves s over streamable HTTP. It must sit behind
// Authenticate; the caller it resolved is passed to tool handlers.
func NewMCPHandler(s *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(s,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if c, ok := CallerFrom(r.Context()); ok {
				return withCaller(ctx, c)
			}
			return ctx
		}),
	)
}

func toolCaller(ctx context.Context) (auth.Caller, *mcp.CallToolResult) {
	c, ok := CallerFrom(ctx)
	if !ok {
		return auth.Caller{}, mcpError("not authenticated")
	}
	return c, nil
}

func mcpPush(deps MCPDeps, typ storage.ContentType) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		caller, denied := toolCaller(ctx)
		if denied != nil {
			return denied, nil
		}
		body, err := req.RequireString("body")
		if err != nil {
			return mcpError("body is required"), nil
		}
		p := agentcontent.Push{
			Title:      req.GetString("title", ""),
			Body:       body,
			ExternalID: req.GetString("external_id", ""),
		}

		var res agentcontent.Result
		if typ == storage.ContentForm {
			res, err = deps.Content.PushForm(ctx, caller, p)
		} else {
			res, err = deps.Content.PushMarkdown(ctx, caller, p)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("push failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpCreateItem(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		caller, denied := toolCaller(ctx)
		if denied != nil {
			return denied, nil
		}
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		in := board.NewItem{
			Title:       title,
			Description: req.GetString("description", ""),
			Tag:         storage.Tag(req.GetString("tag", "")),
			Urgency:     storage.Urgency(req.GetString("urgency", "")),
			Importance:  storage.Importance(req.GetString("importance", "")),
		}
		if d := req.GetString("deadline", ""); d != "" {
			t, err := time.Parse(time.RFC3339, d)
			if err != nil {
				return mcpError("deadline must be an RFC 3339 timestamp"), nil
			}
			in.Deadline = &t
		}

		item, err := deps.Board.CreateItem(ctx, caller, in)
		if err != nil {
			return mcpError(fmt.Sprintf("create failed: %v", err)), nil
		}
		return mcpJSON(item)
	}
}

func mcpListItems(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		caller, denied := toolCaller(ctx)
		if denied != nil {
			return denied, nil
		}
		page, err := deps.Board.ListItems(ctx, caller, board.ListQuery{
			Status:   req.GetString("status", ""),
			Tag:      req.GetString("tag", ""),
			Page:     req.GetInt("page", 0),
			PageSize: req.GetInt("page_size", 0),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("list failed: %v", err)), nil
		}
		if page.Items == nil {
			page.Items = []storage.Item{}
		}
		return mcpJSON(page)
	}
}

func mcpAddNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		caller, denied := toolCaller(ctx)
		if denied != nil {
			return denied, nil
		}
		itemID, err := req.RequireString("item_id")
		if err != nil {
			return mcpError("item_id is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		note, err := deps.Board.AddNote(ctx, caller, itemID, board.Optional[storage.Actor]{}, content)
		if err != nil {
			return mcpError(fmt.Sprintf("add note failed: %v", err)), nil
		}
		return mcpJSON(note)
	}
}

func mcpMarkDone(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		caller, denied := toolCaller(ctx)
		if denied != nil {
			return denied, nil
		}
		itemID, err := req.RequireString("item_id")
		if err != nil {
			return mcpError("item_id is required"), nil
		}
		item, err := deps.Board.MarkDone(ctx, caller, itemID, board.Optional[storage.Actor]{})
		if err != nil {
			return mcpError(fmt.Sprintf("mark done failed: %v", err)), nil
		}
		return mcpJSON(item)
	}
}

func mcpDropItem(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		caller, denied := toolCaller(ctx)
		if denied != nil {
			return denied, nil
		}
		itemID, err := req.RequireString("item_id")
		if err != nil {
			return mcpError("item_id is required"), nil
		}
		item, err := deps.Board.Drop(ctx, caller, itemID, board.Optional[storage.Actor]{}, req.GetString("note", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("drop failed: %v", err)), nil
		}
		return mcpJSON(item)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
