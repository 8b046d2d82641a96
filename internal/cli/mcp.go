package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/stacktodo/stacktodo-go/internal/api"
	"github.com/stacktodo/stacktodo-go/internal/cache"
	"github.com/stacktodo/stacktodo-go/internal/core"
	"github.com/stacktodo/stacktodo-go/internal/output"
)

// MCP Protocol types
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type MCPToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type MCPInitializeResult struct {
	ProtocolVersion string        `json:"protocolVersion"`
	ServerInfo      MCPServerInfo `json:"serverInfo"`
	Capabilities    interface{}   `json:"capabilities"`
}

// SourceParams name the blog a tool reads: a task id, or a team and
// reference.
type SourceParams struct {
	TaskID    string `json:"task_id"`
	Team      string `json:"team"`
	Reference string `json:"reference"`
}

// PublishIndexParams are the parameters for the publish_index tool
type PublishIndexParams struct {
	SourceParams
	Refresh bool `json:"refresh"`
}

// PublishPageParams are the parameters for the publish_page tool
type PublishPageParams struct {
	SourceParams
	After string `json:"after"`
	Count int    `json:"count"`
	Raw   bool   `json:"raw"`
}

// PublishPostParams are the parameters for the publish_post tool
type PublishPostParams struct {
	SourceParams
	ID    string `json:"id"`
	Index *int   `json:"index"`
	Raw   bool   `json:"raw"`
}

// source converts the parameters into a cache.Source.
func (p SourceParams) source() (cache.Source, error) {
	switch {
	case p.TaskID != "" && (p.Team != "" || p.Reference != ""):
		return cache.Source{}, fmt.Errorf("use either task_id or team and reference, not both")
	case p.TaskID != "":
		return cache.NewSource(p.TaskID)
	case p.Team != "" && p.Reference != "":
		return cache.NewSource(p.Team, p.Reference)
	default:
		return cache.Source{}, fmt.Errorf("task_id, or team and reference, are required")
	}
}

// mcpServer answers MCP requests read line by line from in. Caches are kept
// per source for the life of the server, so repeated tool calls reuse the
// loaded index and fetched posts.
type mcpServer struct {
	in        io.Reader
	out       io.Writer
	openCache func(cache.Source) (*cache.PostIndexCache, error)
	caches    map[string]*cache.PostIndexCache
}

func newMCPServer(in io.Reader, out io.Writer, openCache func(cache.Source) (*cache.PostIndexCache, error)) *mcpServer {
	return &mcpServer{
		in:        in,
		out:       out,
		openCache: openCache,
		caches:    make(map[string]*cache.PostIndexCache),
	}
}

// Run serves requests until in is exhausted.
func (s *mcpServer) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	// Increase buffer size for large messages
	const maxCapacity = 10 * 1024 * 1024 // 10MB
	buf := make([]byte, maxCapacity)
	scanner.Buffer(buf, maxCapacity)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			// For parse errors, we can't know the ID, so we log to stderr
			// but don't send a response (which would have id: null and confuse clients)
			slog.Warn("MCP parse error", "error", err)
			continue
		}

		s.handleRequest(ctx, &req)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

func (s *mcpServer) handleRequest(ctx context.Context, req *MCPRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "initialized", "notifications/initialized":
		// Notifications don't get responses - silently ignore
		return
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolsCall(ctx, req)
	default:
		// Only send error for requests (those with an ID)
		// Notifications (no ID) should be silently ignored per JSON-RPC spec
		if req.ID != nil {
			s.sendError(req.ID, -32601, "Method not found", req.Method)
		}
	}
}

func (s *mcpServer) handleInitialize(req *MCPRequest) {
	result := MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		ServerInfo: MCPServerInfo{
			Name:    "stacktodo-cli",
			Version: core.Version,
		},
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	}
	s.sendResponse(req.ID, result)
}

func sourceProperties() map[string]interface{} {
	return map[string]interface{}{
		"task_id": map[string]interface{}{
			"type":        "string",
			"description": "stacktodo task id of the blog",
		},
		"team": map[string]interface{}{
			"type":        "string",
			"description": "Slack team name (with reference, instead of task_id)",
		},
		"reference": map[string]interface{}{
			"type":        "string",
			"description": "Blog reference within the team",
		},
	}
}

func withSource(extra map[string]interface{}) map[string]interface{} {
	props := sourceProperties()
	for k, v := range extra {
		props[k] = v
	}
	return props
}

func (s *mcpServer) handleToolsList(req *MCPRequest) {
	tools := []MCPToolInfo{
		{
			Name:        "publish_index",
			Description: "List the posts of a Slack-published blog in order.\n\nArgs:\n    task_id: stacktodo task id, or\n    team, reference: Slack team and blog reference\n    refresh: Reload the index even if it was loaded earlier in this session\n\nReturns:\n    The post heads (id, url, index) and their count",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withSource(map[string]interface{}{
					"refresh": map[string]interface{}{
						"type":        "boolean",
						"description": "Reload the index",
						"default":     false,
					},
				}),
			},
		},
		{
			Name:        "publish_page",
			Description: "Fetch the page of posts following a cursor.\n\nArgs:\n    task_id: stacktodo task id, or\n    team, reference: Slack team and blog reference\n    after: Id of the last post already seen; empty or unknown starts from the first post\n    count: Posts per page\n    raw: Return raw post JSON instead of plain text\n\nReturns:\n    The posts in index order, the next cursor and whether the end of the index was reached",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withSource(map[string]interface{}{
					"after": map[string]interface{}{
						"type":        "string",
						"description": "Id of the last post already seen",
					},
					"count": map[string]interface{}{
						"type":        "integer",
						"description": "Posts per page",
						"default":     core.PageSize,
					},
					"raw": map[string]interface{}{
						"type":        "boolean",
						"description": "Return raw JSON instead of formatted results",
						"default":     false,
					},
				}),
			},
		},
		{
			Name:        "publish_post",
			Description: "Fetch one post by id or by position.\n\nArgs:\n    task_id: stacktodo task id, or\n    team, reference: Slack team and blog reference\n    id: Post id\n    index: Post position, when id is not given\n    raw: Return raw post JSON instead of plain text\n\nReturns:\n    The post",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": withSource(map[string]interface{}{
					"id": map[string]interface{}{
						"type":        "string",
						"description": "Post id",
					},
					"index": map[string]interface{}{
						"type":        "integer",
						"description": "Post position in the index",
					},
					"raw": map[string]interface{}{
						"type":        "boolean",
						"description": "Return raw JSON instead of formatted results",
						"default":     false,
					},
				}),
			},
		},
	}

	s.sendResponse(req.ID, map[string]interface{}{"tools": tools})
}

func (s *mcpServer) handleToolsCall(ctx context.Context, req *MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	switch params.Name {
	case "publish_index":
		s.handlePublishIndex(ctx, req.ID, params.Arguments)
	case "publish_page":
		s.handlePublishPage(ctx, req.ID, params.Arguments)
	case "publish_post":
		s.handlePublishPost(ctx, req.ID, params.Arguments)
	default:
		s.sendError(req.ID, -32602, "Unknown tool", params.Name)
	}
}

// cacheFor returns the session cache for p, loading its index when needed.
func (s *mcpServer) cacheFor(ctx context.Context, p SourceParams, refresh bool) (*cache.PostIndexCache, error) {
	source, err := p.source()
	if err != nil {
		return nil, err
	}

	c, ok := s.caches[source.Key()]
	if !ok {
		if c, err = s.openCache(source); err != nil {
			return nil, err
		}
		s.caches[source.Key()] = c
	}

	if refresh {
		c.InvalidateIndex()
	}
	if !c.Loaded() {
		if err := c.Load(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (s *mcpServer) handlePublishIndex(ctx context.Context, id interface{}, argsJSON json.RawMessage) {
	var args PublishIndexParams
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		s.sendToolError(id, fmt.Sprintf("Invalid arguments: %v", err))
		return
	}

	c, err := s.cacheFor(ctx, args.SourceParams, args.Refresh)
	if err != nil {
		s.sendFailure(id, "Failed to load index", err)
		return
	}

	heads := c.Heads()
	s.sendToolResult(id, map[string]interface{}{
		"source": c.Source().Key(),
		"count":  len(heads),
		"posts":  heads,
	})
}

func (s *mcpServer) handlePublishPage(ctx context.Context, id interface{}, argsJSON json.RawMessage) {
	var args PublishPageParams
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		s.sendToolError(id, fmt.Sprintf("Invalid arguments: %v", err))
		return
	}

	// Set defaults
	if args.Count == 0 {
		args.Count = core.PageSize
	}

	c, err := s.cacheFor(ctx, args.SourceParams, false)
	if err != nil {
		s.sendFailure(id, "Failed to load index", err)
		return
	}

	posts, err := c.Postset(ctx, args.After, args.Count)
	if err != nil {
		s.sendFailure(id, "Failed to fetch page", err)
		return
	}
	sorted := cache.SortedPosts(posts)

	next := ""
	isLast := true
	if len(sorted) > 0 {
		next = sorted[len(sorted)-1].ID
		isLast = c.IsPostIDLast(next)
	}

	s.sendToolResult(id, map[string]interface{}{
		"after":       args.After,
		"posts_count": len(sorted),
		"posts":       formatPosts(sorted, args.Raw),
		"next_cursor": next,
		"is_last":     isLast,
	})
}

func (s *mcpServer) handlePublishPost(ctx context.Context, id interface{}, argsJSON json.RawMessage) {
	var args PublishPostParams
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		s.sendToolError(id, fmt.Sprintf("Invalid arguments: %v", err))
		return
	}
	if (args.ID == "") == (args.Index == nil) {
		s.sendToolError(id, "Exactly one of id and index is required")
		return
	}

	c, err := s.cacheFor(ctx, args.SourceParams, false)
	if err != nil {
		s.sendFailure(id, "Failed to load index", err)
		return
	}

	var post *api.Post
	if args.ID != "" {
		post, err = c.PostForID(ctx, args.ID)
	} else {
		post, err = c.PostForIndex(ctx, *args.Index)
	}
	if err != nil {
		s.sendFailure(id, "Failed to fetch post", err)
		return
	}

	s.sendToolResult(id, map[string]interface{}{
		"post": formatPosts([]*api.Post{post}, args.Raw)[0],
	})
}

// formatPosts returns the posts as is when raw, otherwise as plain-text
// summaries.
func formatPosts(posts []*api.Post, raw bool) []interface{} {
	formatted := make([]interface{}, 0, len(posts))

	for _, post := range posts {
		if raw {
			formatted = append(formatted, post)
			continue
		}
		formatted = append(formatted, map[string]interface{}{
			"id":     post.ID,
			"index":  post.Index,
			"title":  post.Title,
			"author": post.Author.Username,
			"ts":     post.TS,
			"text":   output.HTMLToText(post.HTML),
		})
	}

	return formatted
}

// sendFailure reports a cache or API failure as a tool result carrying the
// status and code of the failure.
func (s *mcpServer) sendFailure(id interface{}, message string, err error) {
	status, code := api.StatusOf(err)
	s.sendToolResult(id, map[string]interface{}{
		"error":  fmt.Sprintf("%s: %v", message, err),
		"status": status,
		"code":   code,
	})
}

func (s *mcpServer) sendResponse(id interface{}, result interface{}) {
	resp := MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	data, _ := json.Marshal(resp)
	fmt.Fprintln(s.out, string(data))
}

func (s *mcpServer) sendError(id interface{}, code int, message, data string) {
	resp := MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	data2, _ := json.Marshal(resp)
	fmt.Fprintln(s.out, string(data2))
}

func (s *mcpServer) sendToolResult(id interface{}, result interface{}) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": mustMarshal(result),
			},
		},
	})
}

func (s *mcpServer) sendToolError(id interface{}, message string) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": message,
			},
		},
		"isError": true,
	})
}

func mustMarshal(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(data)
}
