// Package wire decodes streaming HTTP response bodies into framed units:
// Server-Sent Events for anthropic/openai style endpoints and newline
// delimited JSON for ollama style endpoints. It carries no vendor semantics.
//
// The package also provides the idle Watchdog used by providers to abort a
// stream that stopped producing content.
package wire
