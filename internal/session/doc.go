// Package session runs conversations with a model: it stores sessions,
// drives turns through the model and tools, and compacts long histories.
//
// # Store
//
// A Store keeps one JSON document per session. Messages are append-only;
// the only message that changes after it is appended is the assistant
// message of a running turn. Listing reads the summary fields straight from
// the raw documents:
//
//	store := session.NewStore(storage.New(dir), bus)
//	sess, _ := store.Create(ctx, "/path/to/project", "")
//	summaries, _ := store.List(ctx)
//
// Acquire takes the advisory turn lock of a session. It is held for the
// whole of a turn, so a second turn on the same session, from this process
// or another one, fails with ErrSessionBusy instead of waiting.
//
// # Processor
//
// A Processor runs turns. Per model call it moves through the states
//
//	Idle -> AwaitingModel -> StreamingText <-> ExecutingTool -> Idle
//
// and ends in Failed or Cancelled when the turn cannot finish:
//
//	proc := session.NewProcessor(session.Deps{
//		Providers: providers,
//		Tools:     tool.DefaultRegistry(dir),
//		Store:     store,
//		Policy:    policy,
//		Asker:     permission.NewAsker(bus),
//	}, session.Options{Model: "anthropic/claude-sonnet-4-20250514"})
//
//	result, err := proc.Process(ctx, sess.ID, "fix the failing test", func(ev types.ProcessorEvent) {
//		if ev.Type == types.PEText {
//			fmt.Print(ev.Delta)
//		}
//	})
//
// Every tool call is checked against the permission policy before it runs.
// Denied and unknown tools, tool failures and timeouts become error
// tool_result blocks the model sees on its next call. Tool results are
// appended in the order the model started the calls, whatever order they
// finished in. Provider failures and cancellation end the turn with an
// error event; the session keeps everything recorded up to that point.
//
// # Compaction
//
// Before each model call the history is compacted when its estimated size
// exceeds the Compactor threshold. The stored messages are kept; the
// session records the summary and the first message kept verbatim, and
// Session.History rebuilds the compacted view from that.
package session
