// Package server provides the HTTP API of the session engine.
//
// The server is a chi router over the session store, the processor, the
// permission asker and the event bus. It adds no behavior of its own: every
// endpoint maps onto one engine operation.
//
// # API Endpoints
//
//   - GET    /health                       liveness
//   - GET    /session                      list session summaries
//   - POST   /session                      create a session
//   - GET    /session/{id}                 session with its messages
//   - PATCH  /session/{id}                 rename {"title":"..."}
//   - DELETE /session/{id}                 delete (409 while a turn runs)
//   - GET    /session/{id}/message         messages only
//   - POST   /session/{id}/message         run a turn, streamed as SSE
//   - GET    /session/{id}/state           turn state
//   - POST   /session/{id}/abort           cancel the running turn
//   - GET    /session/{id}/permission      pending questions of the session
//   - GET    /permission                   all pending questions
//   - POST   /permission/{requestID}       answer {"response":"once|always|reject"}
//   - GET    /event                        bus events as SSE, ?session= and ?type= filter
//   - GET    /provider                     available models
//   - GET    /tool                         registered tool ids
//   - GET    /mcp                          MCP server status
//
// # Message Streaming
//
// POST /session/{id}/message takes {"content":"..."} and answers with
// text/event-stream. Each processor event is one SSE event named by its
// type (state, text, tool_start, tool_result, permission_ask, message,
// compacted, done, error) with the event as JSON data. A final "result"
// event carries the turn result. Errors that stop the turn from starting
// are ordinary JSON errors instead: 404 for an unknown session, 409 when
// the session is busy.
//
// A permission_ask event names a request id; the turn waits until a client
// answers it through POST /permission/{requestID}. Dropping the connection
// cancels the turn.
//
// # Errors
//
// Errors are JSON:
//
//	{"error": {"code": "NOT_FOUND", "message": "session not found"}}
package server
