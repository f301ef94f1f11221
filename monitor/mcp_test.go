package monitor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "argus-test", Version: "0.0.1"}

func connectMCP(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)
	serverT, clientT := mcp.NewInMemoryTransports()
	go srv.Run(ctx, serverT)

	session, err := mcp.NewClient(testMCPImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("%s: empty result", name)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("%s: content %T", name, res.Content[0])
	}
	return text.Text, res.IsError
}

func TestMCP_Tools(t *testing.T) {
	// WHAT: The three watch tools create, list and cancel through MCP.
	// WHY: Agents drive the service over MCP only.
	h := newHarness(t, testConfig(t))
	session := connectMCP(t, h.svc)

	tools, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{"argus_create_watch", "argus_cancel_watch", "argus_list_watches"} {
		if !strings.Contains(strings.Join(names, " "), want) {
			t.Fatalf("tool %s not listed in %v", want, names)
		}
	}

	key := map[string]any{
		"document_url": "https://example.com/a",
		"client_url":   "https://hooks.example.net/x",
	}
	create := map[string]any{"keywords": []string{"argus"}, "stemming": true}
	for k, v := range key {
		create[k] = v
	}
	out, isErr := callTool(t, session, "argus_create_watch", create)
	if isErr {
		t.Fatalf("create: %s", out)
	}
	var sess struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(out), &sess); err != nil || sess.Token == "" {
		t.Fatalf("create result %s: %v", out, err)
	}

	out, isErr = callTool(t, session, "argus_create_watch", create)
	if !isErr || !strings.Contains(out, "already exists") {
		t.Fatalf("duplicate create: %v %s", isErr, out)
	}

	out, isErr = callTool(t, session, "argus_list_watches", map[string]any{})
	if isErr {
		t.Fatalf("list: %s", out)
	}
	var watches []Watch
	if err := json.Unmarshal([]byte(out), &watches); err != nil || len(watches) != 1 {
		t.Fatalf("list result %s: %v", out, err)
	}

	if out, isErr := callTool(t, session, "argus_cancel_watch", key); isErr {
		t.Fatalf("cancel: %s", out)
	}
	out, isErr = callTool(t, session, "argus_cancel_watch", key)
	if !isErr || !strings.Contains(out, "not found") {
		t.Fatalf("second cancel: %v %s", isErr, out)
	}
}

func TestMCP_InvalidArguments(t *testing.T) {
	// WHAT: Validation failures come back as tool errors, not protocol errors.
	// WHY: The agent must be able to read and fix its request.
	h := newHarness(t, testConfig(t))
	session := connectMCP(t, h.svc)

	out, isErr := callTool(t, session, "argus_create_watch", map[string]any{
		"document_url": "ftp://example.com/a",
		"client_url":   "https://hooks.example.net/x",
		"keywords":     []string{"argus"},
	})
	if !isErr || !strings.Contains(out, "invalid input") {
		t.Fatalf("got %v %s", isErr, out)
	}
}
