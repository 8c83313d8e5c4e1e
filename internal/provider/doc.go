// Package provider turns vendor streaming APIs into one canonical event
// stream.
//
// # Contract
//
// Every Provider exposes Chat, which returns an *EventStream of
// types.ChatEvent values. Failures never surface as Go errors: a missing
// credential, a non-2xx response, a transport failure after retries and a
// cancelled request all arrive as a terminal event of type "error" carrying a
// types.ErrorKind.
//
// # Vendors
//
//   - anthropic: Messages API over SSE, near-canonical mapping.
//   - openai: chat completions over SSE; tool call arguments arrive as
//     fragments keyed by call index and are buffered until the next index
//     appears or the stream ends.
//   - ollama: /api/chat over newline-delimited JSON.
//   - ark, bedrock, azure: eino-ext chat models adapted by EinoProvider and
//     normalized with the same accumulator as openai.
//
// # Lifecycle
//
// The wire providers share httpStreamer: requests are retried with
// exponential backoff (1s base, factor 2, 3 attempts) only when no response
// was received. An idle watchdog aborts streams that stop producing content;
// keepalives (SSE comments, anthropic ping) do not reset it.
//
// Providers are collected in an explicit Registry built by
// InitializeProviders:
//
//	registry := provider.InitializeProviders(ctx, cfg)
//	p, modelID, err := registry.Resolve("anthropic/claude-sonnet-4-20250514")
//	stream := p.Chat(ctx, &provider.ChatRequest{Model: modelID, Messages: history})
package provider
