package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/codeagent/internal/mcp/mcptest"
	"github.com/opencode-ai/codeagent/internal/permission"
	"github.com/opencode-ai/codeagent/internal/tool"
	"github.com/opencode-ai/codeagent/pkg/types"
)

const stdioServerEnv = "CODEAGENT_MCPTEST_STDIO"

// TestMain lets the test binary double as a stdio MCP server.
func TestMain(m *testing.M) {
	if os.Getenv(stdioServerEnv) == "1" {
		if err := mcptest.ServeStdio(); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func connect(t *testing.T, name string, cfg *Config) *Client {
	t.Helper()
	client := NewClient()
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.AddServer(testCtx(t), name, cfg))
	return client
}

func transports(t *testing.T) map[string]*Config {
	streamable := mcptest.NewStreamableServer()
	t.Cleanup(streamable.Close)
	sse := mcptest.NewSSEServer()
	t.Cleanup(sse.Close)

	return map[string]*Config{
		"streamable": {Enabled: true, Type: TransportTypeRemote, URL: streamable.URL + "/mcp", Timeout: 10000},
		"sse":        {Enabled: true, Type: TransportTypeSSE, URL: sse.URL + "/sse", Timeout: 10000},
		"stdio": {
			Enabled:     true,
			Type:        TransportTypeLocal,
			Command:     []string{os.Args[0], "-test.run=^$"},
			Environment: map[string]string{stdioServerEnv: "1"},
			Timeout:     10000,
		},
	}
}

func TestClient_Transports(t *testing.T) {
	for name, cfg := range transports(t) {
		t.Run(name, func(t *testing.T) {
			client := connect(t, "calc", cfg)

			status := client.Status()
			require.Len(t, status, 1)
			assert.Equal(t, StatusConnected, status[0].Status)
			assert.Equal(t, 2, status[0].ToolCount)
			assert.Equal(t, "calculator 1.0.0", status[0].Server)
			assert.Nil(t, status[0].Error)

			tools := client.ListTools()
			require.Len(t, tools, 2)
			assert.Equal(t, "calc_fail", tools[0].Name)
			assert.Equal(t, "calc_sum", tools[1].Name)
			assert.Contains(t, tools[1].Description, "sum")

			var schema map[string]any
			require.NoError(t, json.Unmarshal(tools[1].InputSchema, &schema))
			assert.Equal(t, "object", schema["type"])

			res, err := client.CallTool(testCtx(t), "calc_sum", json.RawMessage(`{"numbers":[1,2,3.5]}`))
			require.NoError(t, err)
			assert.False(t, res.IsError)
			assert.Equal(t, "6.5", res.Output)
		})
	}
}

func TestClient_ToolErrorIsResult(t *testing.T) {
	client := connect(t, "calc", transports(t)["streamable"])

	res, err := client.CallTool(testCtx(t), "calc_fail", json.RawMessage(`{"reason":"division by zero"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "division by zero", res.Output)

	res, err = client.CallTool(testCtx(t), "calc_sum", json.RawMessage(`{"numbers":"nope"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	_, err = client.CallTool(testCtx(t), "calc_missing", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)

	_, err = client.CallTool(testCtx(t), "calc_sum", json.RawMessage(`[1,2]`))
	assert.ErrorContains(t, err, "failed to parse arguments")
}

func TestClient_ServerLifecycle(t *testing.T) {
	client := NewClient()
	defer client.Close()
	ctx := testCtx(t)

	require.NoError(t, client.AddServer(ctx, "off", &Config{Enabled: false, Type: TransportTypeLocal}))
	err := client.AddServer(ctx, "off", &Config{Enabled: false})
	assert.ErrorContains(t, err, "already exists")

	err = client.AddServer(ctx, "broken", &Config{Enabled: true, Type: TransportTypeLocal})
	assert.ErrorContains(t, err, "empty command")
	err = client.AddServer(ctx, "weird", &Config{Enabled: true, Type: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unknown transport type")

	status := client.Status()
	require.Len(t, status, 3)
	assert.Equal(t, "broken", status[0].Name)
	assert.Equal(t, StatusFailed, status[0].Status)
	require.NotNil(t, status[0].Error)
	assert.Contains(t, *status[0].Error, "empty command")
	assert.Equal(t, StatusDisabled, status[1].Status)
	assert.Equal(t, "weird", status[2].Name)
	assert.Empty(t, client.ListTools())

	require.NoError(t, client.Close())
	assert.Empty(t, client.Status())
}

func TestClient_RemoteFallsBackToSSE(t *testing.T) {
	sse := mcptest.NewSSEServer()
	t.Cleanup(sse.Close)

	client := connect(t, "calc", &Config{Enabled: true, Type: TransportTypeRemote, URL: sse.URL + "/sse", Timeout: 10000})
	assert.Len(t, client.ListTools(), 2)
}

func TestClient_RemoteHeaders(t *testing.T) {
	streamable := mcptest.NewStreamableServer()
	t.Cleanup(streamable.Close)

	var seen atomic.Value
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
		target, _ := url.Parse(streamable.URL)
		httputil.NewSingleHostReverseProxy(target).ServeHTTP(w, r)
	}))
	t.Cleanup(proxy.Close)

	connect(t, "calc", &Config{
		Enabled: true,
		Type:    TransportTypeRemote,
		URL:     proxy.URL + "/mcp",
		Headers: map[string]string{"Authorization": "Bearer token"},
		Timeout: 10000,
	})
	assert.Equal(t, "Bearer token", seen.Load())
}

func TestToolWrapper_RegistryAndPermissions(t *testing.T) {
	client := connect(t, "calc", transports(t)["streamable"])
	registry := tool.NewRegistry("")
	registry.RegisterProvider(client)

	ids := registry.IDs(context.Background())
	assert.Equal(t, []string{"calc_fail", "calc_sum"}, ids)

	sum, ok := registry.Get(context.Background(), "calc_sum")
	require.True(t, ok)
	assert.Equal(t, permission.KindMCP, sum.Permission())
	assert.Equal(t, "calc_sum", sum.Target(nil, ""))

	policy := permission.Policy{
		Default: permission.ModeAsk,
		Rules: []permission.Rule{
			{Permission: permission.KindMCP, Pattern: "calc_*", Action: permission.ActionAllow},
			{Permission: permission.KindMCP, Pattern: "calc_fail", Action: permission.ActionDeny},
		},
	}
	assert.True(t, permission.Check(policy, sum.Permission(), sum.Target(nil, "")).Allowed)
	assert.Equal(t, permission.ActionDeny, permission.Check(policy, permission.KindMCP, "calc_fail").Action)

	result, err := sum.Execute(testCtx(t), json.RawMessage(`{"numbers":[100,200,300]}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "600", result.Output)
	assert.False(t, result.IsError)

	fail, _ := registry.Get(context.Background(), "calc_fail")
	result, err = fail.Execute(testCtx(t), json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "failed on purpose", result.Output)
}

func TestConfigFromTypes(t *testing.T) {
	off := false
	tests := []struct {
		in      types.MCPConfig
		enabled bool
		typ     TransportType
	}{
		{types.MCPConfig{Command: []string{"srv"}}, true, TransportTypeLocal},
		{types.MCPConfig{URL: "http://x/mcp"}, true, TransportTypeRemote},
		{types.MCPConfig{Type: "sse", URL: "http://x/sse"}, true, TransportTypeSSE},
		{types.MCPConfig{Type: "remote", Enabled: &off}, false, TransportTypeRemote},
	}
	for _, tt := range tests {
		cfg := ConfigFromTypes(tt.in)
		assert.Equal(t, tt.enabled, cfg.Enabled)
		assert.Equal(t, tt.typ, cfg.Type)
	}
}

func TestSanitizeToolName(t *testing.T) {
	assert.Equal(t, "calc_sse", sanitizeToolName("calc-sse"))
	assert.Equal(t, "my_server_read_file", qualifiedName("my.server", "read_file"))
}
