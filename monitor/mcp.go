package monitor

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/argus/kit"
)

// RegisterMCP registers the watch tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	ep := s.newEndpoints()
	s.registerCreateWatch(srv, ep.create)
	s.registerCancelWatch(srv, ep.cancel)
	s.registerListWatches(srv, ep.list)
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

var watchKeyProperties = map[string]any{
	"document_url":          map[string]any{"type": "string", "description": "http(s) URL of the watched document"},
	"document_content_type": map[string]any{"type": "string", "description": "Media type of the document (default text/html)"},
	"client_url":            map[string]any{"type": "string", "description": "http(s) webhook receiving notifications"},
	"client_content_type":   map[string]any{"type": "string", "description": "Media type of notifications (default application/json)"},
}

func (s *Service) registerCreateWatch(srv *mcp.Server, endpoint kit.Endpoint) {
	props := map[string]any{
		"keywords": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Keywords or phrases to look for in changed text",
		},
		"ignore_added":     map[string]any{"type": "boolean", "description": "Do not report matches in inserted text"},
		"ignore_removed":   map[string]any{"type": "boolean", "description": "Do not report matches in deleted text"},
		"stopwords":        map[string]any{"type": "boolean", "description": "Drop stopwords from keywords and text"},
		"stemming":         map[string]any{"type": "boolean", "description": "Compare word stems"},
		"ignore_case":      map[string]any{"type": "boolean", "description": "Case and accent insensitive matching"},
		"snippet_offset":   map[string]any{"type": "integer", "description": "Characters of context around each match"},
		"interval_seconds": map[string]any{"type": "integer", "description": "Polling interval in seconds"},
		"language":         map[string]any{"type": "string", "description": "ISO 639-1 code forcing the document language"},
	}
	for k, v := range watchKeyProperties {
		props[k] = v
	}
	tool := &mcp.Tool{
		Name:        "argus_create_watch",
		Description: "Watch a document and notify a webhook when keywords appear in or vanish from its text",
		InputSchema: inputSchema(props, []string{"document_url", "client_url", "keywords"}),
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeJSON[WatchRequest]())
}

func (s *Service) registerCancelWatch(srv *mcp.Server, endpoint kit.Endpoint) {
	tool := &mcp.Tool{
		Name:        "argus_cancel_watch",
		Description: "Stop a watch created with argus_create_watch",
		InputSchema: inputSchema(watchKeyProperties, []string{"document_url", "client_url"}),
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeJSON[WatchKey]())
}

func (s *Service) registerListWatches(srv *mcp.Server, endpoint kit.Endpoint) {
	tool := &mcp.Tool{
		Name:        "argus_list_watches",
		Description: "List running watches with their polling state",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeJSON[struct{}]())
}
