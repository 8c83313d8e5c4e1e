// Package mcp connects to Model Context Protocol servers and exposes their
// tools to the agent.
//
// Servers are reached over a subprocess (local/stdio), streamable HTTP, or
// SSE. A Client is a tool.Provider: register it with a tool.Registry and the
// tools of every connected server appear as <server>_<tool>, checked against
// the mcp permission kind.
//
//	client := mcp.NewClient()
//	defer client.Close()
//	if err := client.AddServer(ctx, "calc", &mcp.Config{
//		Enabled: true,
//		Type:    mcp.TransportTypeLocal,
//		Command: []string{"calculator-mcp"},
//	}); err != nil {
//		log.Printf("calc unavailable: %v", err)
//	}
//	registry.RegisterProvider(client)
package mcp
