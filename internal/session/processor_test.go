package session

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/codeagent/internal/permission"
	"github.com/opencode-ai/codeagent/internal/provider"
	"github.com/opencode-ai/codeagent/internal/provider/providertest"
	"github.com/opencode-ai/codeagent/internal/storage"
	"github.com/opencode-ai/codeagent/internal/tool"
	"github.com/opencode-ai/codeagent/pkg/types"
)

func TestSessionSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Session Suite")
}

// recorder collects the events of a turn.
type recorder struct {
	mu     sync.Mutex
	events []types.ProcessorEvent
	on     func(types.ProcessorEvent)
}

func (r *recorder) callback(ev types.ProcessorEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	on := r.on
	r.mu.Unlock()
	if on != nil {
		on(ev)
	}
}

func (r *recorder) ofType(t types.ProcessorEventType) []types.ProcessorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.ProcessorEvent
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) states() []types.TurnState {
	var out []types.TurnState
	for _, ev := range r.ofType(types.PEState) {
		out = append(out, ev.State)
	}
	return out
}

// echoTool returns its "text" argument after an optional delay.
func echoTool(id string, kind permission.Kind, delay time.Duration) tool.Tool {
	return tool.NewBaseTool(id, "Echo the text argument.",
		json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
		kind,
		func(input json.RawMessage) string { return pathField(input, "text") },
		func(ctx context.Context, input json.RawMessage, _ *tool.Context) (*tool.Result, error) {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return &tool.Result{Output: "echo: " + pathField(input, "text")}, nil
		})
}

// blockingTool reports each call on started and returns once the turn is
// cancelled.
func blockingTool(id string, started chan<- string) tool.Tool {
	return tool.NewBaseTool(id, "Block until cancelled.",
		json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
		permission.KindWrite,
		func(input json.RawMessage) string { return pathField(input, "text") },
		func(ctx context.Context, input json.RawMessage, _ *tool.Context) (*tool.Result, error) {
			started <- pathField(input, "text")
			<-ctx.Done()
			return nil, ctx.Err()
		})
}

// hookSummarizer calls before and then returns a fixed summary.
type hookSummarizer struct{ before func() }

func (h hookSummarizer) Summarize(context.Context, []types.Message) (string, error) {
	h.before()
	return "earlier work", nil
}

func pathField(input json.RawMessage, name string) string {
	var m map[string]string
	_ = json.Unmarshal(input, &m)
	return m[name]
}

func toolResults(msgs []types.Message) []types.ContentBlock {
	var out []types.ContentBlock
	for _, m := range msgs {
		for _, b := range m.Content {
			if b.Type == types.BlockToolResult {
				out = append(out, b)
			}
		}
	}
	return out
}

var _ = Describe("Processor", func() {
	var (
		ctx      context.Context
		store    *Store
		scripted *providertest.Provider
		tools    *tool.Registry
		policy   permission.Policy
		asker    *permission.Asker
		opts     Options
		sess     *types.Session
		rec      *recorder
	)

	newProcessor := func() *Processor {
		providers := provider.NewRegistry(nil)
		providers.Register(scripted)
		return NewProcessor(Deps{
			Providers: providers,
			Tools:     tools,
			Store:     store,
			Policy:    policy,
			Asker:     asker,
		}, opts)
	}

	BeforeEach(func() {
		ctx = context.Background()
		dir := GinkgoT().TempDir()
		store = NewStore(storage.New(dir), nil)
		tools = tool.NewRegistry(dir)
		tools.Register(echoTool("echo", permission.KindWrite, 0))
		policy = permission.Policy{Default: permission.ModeAllowAll}
		asker = nil
		opts = Options{Model: "mock/scripted", SystemPrompt: "You are a test assistant."}
		rec = &recorder{}

		var err error
		sess, err = store.Create(ctx, dir, "")
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("a text-only turn", func() {
		It("streams the deltas and records one assistant message", func() {
			scripted = providertest.New(providertest.Script{Events: providertest.TextResponse("Hel", "lo ", "world")})

			result, err := newProcessor().Process(ctx, sess.ID, "say hello", rec.callback)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.State).To(Equal(types.StateIdle))
			Expect(result.Error).To(BeNil())
			Expect(result.StopReason).To(Equal(types.StopEndTurn))
			Expect(result.Steps).To(Equal(1))

			var deltas []string
			for _, ev := range rec.ofType(types.PEText) {
				deltas = append(deltas, ev.Delta)
			}
			Expect(deltas).To(Equal([]string{"Hel", "lo ", "world"}))
			Expect(rec.states()).To(Equal([]types.TurnState{
				types.StateAwaitingModel, types.StateStreamingText, types.StateIdle,
			}))
			Expect(rec.ofType(types.PEDone)).To(HaveLen(1))

			stored, err := store.Get(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(types.SessionIdle))
			Expect(stored.Title).To(Equal("say hello"))
			Expect(stored.Messages).To(HaveLen(2))
			Expect(stored.Messages[0].Role).To(Equal(types.RoleUser))
			reply := stored.Messages[1]
			Expect(reply.Role).To(Equal(types.RoleAssistant))
			Expect(reply.Status).To(Equal(types.MessageComplete))
			Expect(types.PlainText(reply.Content)).To(Equal("Hello world"))
			Expect(reply.Usage).NotTo(BeNil())
			Expect(reply.Usage.OutputTokens).To(Equal(5))
		})

		It("sends the system prompt and the prompt to the model", func() {
			scripted = providertest.New()

			_, err := newProcessor().Process(ctx, sess.ID, "what is here?", nil)
			Expect(err).NotTo(HaveOccurred())

			reqs := scripted.Requests()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].Model).To(Equal("scripted"))
			Expect(reqs[0].SystemPrompt).To(HavePrefix("You are a test assistant."))
			Expect(reqs[0].Messages).To(HaveLen(1))
			Expect(types.PlainText(reqs[0].Messages[0].Content)).To(Equal("what is here?"))
			Expect(reqs[0].Tools).NotTo(BeEmpty())
		})
	})

	Describe("tool calls", func() {
		It("answers an unknown tool with an error result and continues", func() {
			scripted = providertest.New(
				providertest.Script{Events: providertest.ToolResponse("Looking.", providertest.ToolCall{ID: "call_1", Name: "list_files", Input: `{}`})},
				providertest.Script{Events: providertest.TextResponse("There is no such tool.")},
			)

			result, err := newProcessor().Process(ctx, sess.ID, "list the files", rec.callback)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.State).To(Equal(types.StateIdle))
			Expect(result.Steps).To(Equal(2))

			results := toolResults(result.Messages)
			Expect(results).To(HaveLen(1))
			Expect(results[0].ToolUseID).To(Equal("call_1"))
			Expect(results[0].IsError).To(BeTrue())
			Expect(results[0].Output).To(ContainSubstring("unknown tool"))

			second := scripted.Requests()[1].Messages
			Expect(second).To(HaveLen(3))
			Expect(second[1].Content).To(ContainElement(HaveField("Type", types.BlockToolUse)))
			Expect(second[2].Role).To(Equal(types.RoleUser))
			Expect(second[2].Content[0].ToolUseID).To(Equal("call_1"))
		})

		It("runs an allowed tool and feeds its output back", func() {
			scripted = providertest.New(
				providertest.Script{Events: providertest.ToolResponse("", providertest.ToolCall{ID: "call_1", Name: "echo", Input: `{"text":"hi"}`})},
				providertest.Script{Events: providertest.TextResponse("ok")},
			)

			result, err := newProcessor().Process(ctx, sess.ID, "echo hi", rec.callback)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.states()).To(ContainElement(types.StateExecutingTool))
			Expect(rec.ofType(types.PEToolStart)).To(HaveLen(1))

			results := toolResults(result.Messages)
			Expect(results).To(HaveLen(1))
			Expect(results[0].IsError).To(BeFalse())
			Expect(results[0].Output).To(Equal("echo: hi"))

			stored, err := store.Get(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			use := types.ToolUses(stored.Messages[1].Content)
			Expect(use).To(HaveLen(1))
			Expect(use[0].Status).To(Equal(types.ToolCompleted))
			Expect(string(use[0].Input)).To(MatchJSON(`{"text":"hi"}`))
		})

		It("keeps tool_use order for results that finish out of order", func() {
			tools.Register(echoTool("slow", permission.KindWrite, 100*time.Millisecond))
			opts.ParallelTools = true
			scripted = providertest.New(
				providertest.Script{Events: providertest.ToolResponse("",
					providertest.ToolCall{ID: "call_a", Name: "slow", Input: `{"text":"a"}`},
					providertest.ToolCall{ID: "call_b", Name: "echo", Input: `{"text":"b"}`},
				)},
				providertest.Script{Events: providertest.TextResponse("done")},
			)

			result, err := newProcessor().Process(ctx, sess.ID, "run both", rec.callback)
			Expect(err).NotTo(HaveOccurred())

			finished := rec.ofType(types.PEToolResult)
			Expect(finished).To(HaveLen(2))
			Expect(finished[0].ToolResult.ToolUseID).To(Equal("call_b"))

			results := toolResults(result.Messages)
			Expect(results).To(HaveLen(2))
			Expect(results[0].ToolUseID).To(Equal("call_a"))
			Expect(results[1].ToolUseID).To(Equal("call_b"))
		})

		It("answers unparseable arguments with a protocol error without running the tool", func() {
			scripted = providertest.New(
				providertest.Script{Events: providertest.ToolResponse("", providertest.ToolCall{ID: "call_1", Name: "echo", Input: `{"text":`})},
				providertest.Script{Events: providertest.TextResponse("sorry")},
			)

			result, err := newProcessor().Process(ctx, sess.ID, "echo", rec.callback)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.ofType(types.PEToolStart)).To(BeEmpty())

			results := toolResults(result.Messages)
			Expect(results).To(HaveLen(1))
			Expect(results[0].IsError).To(BeTrue())
			Expect(results[0].Output).To(HavePrefix("protocol_error:"))
		})

		It("fails the turn after the step limit", func() {
			opts.MaxSteps = 2
			scripted = providertest.New(
				providertest.Script{Events: providertest.ToolResponse("", providertest.ToolCall{ID: "call_1", Name: "echo", Input: `{"text":"1"}`})},
				providertest.Script{Events: providertest.ToolResponse("", providertest.ToolCall{ID: "call_2", Name: "echo", Input: `{"text":"2"}`})},
			)

			result, err := newProcessor().Process(ctx, sess.ID, "loop", rec.callback)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.State).To(Equal(types.StateFailed))
			Expect(result.Error.Kind).To(Equal(types.ErrMaxSteps))
			Expect(scripted.Requests()).To(HaveLen(2))

			stored, err := store.Get(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(types.SessionFailed))
		})
	})

	Describe("permissions", func() {
		It("refuses a denied tool with an error result", func() {
			policy = permission.Policy{Default: permission.ModeDenyAll}
			scripted = providertest.New(
				providertest.Script{Events: providertest.ToolResponse("", providertest.ToolCall{ID: "call_1", Name: "echo", Input: `{"text":"x"}`})},
				providertest.Script{Events: providertest.TextResponse("denied")},
			)

			result, err := newProcessor().Process(ctx, sess.ID, "echo x", rec.callback)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.ofType(types.PEToolStart)).To(BeEmpty())

			results := toolResults(result.Messages)
			Expect(results).To(HaveLen(1))
			Expect(results[0].IsError).To(BeTrue())
			Expect(results[0].Output).To(HavePrefix("permission denied"))
		})

		It("refuses an ask when no one can answer", func() {
			policy = permission.Policy{Default: permission.ModeAsk}
			scripted = providertest.New(
				providertest.Script{Events: providertest.ToolResponse("", providertest.ToolCall{ID: "call_1", Name: "echo", Input: `{"text":"x"}`})},
				providertest.Script{Events: providertest.TextResponse("ok")},
			)

			result, err := newProcessor().Process(ctx, sess.ID, "echo x", nil)
			Expect(err).NotTo(HaveOccurred())
			results := toolResults(result.Messages)
			Expect(results).To(HaveLen(1))
			Expect(results[0].Output).To(ContainSubstring("confirmation required"))
		})

		It("runs the tool once the user approves", func() {
			policy = permission.Policy{Default: permission.ModeAsk}
			asker = permission.NewAsker(nil)
			rec.on = func(ev types.ProcessorEvent) {
				if ev.Type == types.PEPermissionAsk {
					Expect(asker.Respond(ev.Permission.ID, permission.ResponseOnce)).To(BeTrue())
				}
			}
			scripted = providertest.New(
				providertest.Script{Events: providertest.ToolResponse("", providertest.ToolCall{ID: "call_1", Name: "echo", Input: `{"text":"yes"}`})},
				providertest.Script{Events: providertest.TextResponse("ok")},
			)

			result, err := newProcessor().Process(ctx, sess.ID, "echo yes", rec.callback)
			Expect(err).NotTo(HaveOccurred())

			asks := rec.ofType(types.PEPermissionAsk)
			Expect(asks).To(HaveLen(1))
			Expect(asks[0].Permission.ToolName).To(Equal("echo"))
			Expect(asks[0].Permission.Target).To(Equal("yes"))

			results := toolResults(result.Messages)
			Expect(results).To(HaveLen(1))
			Expect(results[0].IsError).To(BeFalse())
			Expect(results[0].Output).To(Equal("echo: yes"))
		})

		It("reports a rejection to the model", func() {
			policy = permission.Policy{Default: permission.ModeAsk}
			asker = permission.NewAsker(nil)
			rec.on = func(ev types.ProcessorEvent) {
				if ev.Type == types.PEPermissionAsk {
					asker.Respond(ev.Permission.ID, permission.ResponseReject)
				}
			}
			scripted = providertest.New(
				providertest.Script{Events: providertest.ToolResponse("", providertest.ToolCall{ID: "call_1", Name: "echo", Input: `{"text":"no"}`})},
				providertest.Script{Events: providertest.TextResponse("ok")},
			)

			result, err := newProcessor().Process(ctx, sess.ID, "echo no", rec.callback)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.ofType(types.PEToolStart)).To(BeEmpty())
			results := toolResults(result.Messages)
			Expect(results).To(HaveLen(1))
			Expect(results[0].IsError).To(BeTrue())
			Expect(results[0].Output).To(Equal("permission denied: rejected by user"))
		})
	})

	Describe("cancellation", func() {
		It("keeps the partial message and runs no tools", func() {
			scripted = providertest.New(providertest.Script{
				Events: []types.ChatEvent{
					types.MessageStartEvent("msg", "scripted"),
					types.TextStartEvent(0),
					types.TextDeltaEvent(0, "Hel"),
					types.TextDeltaEvent(0, "lo"),
				},
				Hang: true,
			})
			proc := newProcessor()
			var once sync.Once
			rec.on = func(ev types.ProcessorEvent) {
				if ev.Type == types.PEText && ev.Delta == "lo" {
					once.Do(func() { Expect(proc.Abort(sess.ID)).To(Succeed()) })
				}
			}

			result, err := proc.Process(ctx, sess.ID, "say hello", rec.callback)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.State).To(Equal(types.StateCancelled))
			Expect(result.Error.Kind).To(Equal(types.ErrCancelled))
			Expect(rec.ofType(types.PEToolStart)).To(BeEmpty())
			Expect(rec.states()).NotTo(ContainElement(types.StateExecutingTool))

			stored, err := store.Get(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(types.SessionCancelled))
			Expect(stored.Messages).To(HaveLen(2))
			Expect(stored.Messages[1].Status).To(Equal(types.MessageCancelled))
			Expect(types.PlainText(stored.Messages[1].Content)).To(Equal("Hello"))
			Expect(proc.IsProcessing(sess.ID)).To(BeFalse())
		})

		It("answers the calls that never ran", func() {
			started := make(chan string, 2)
			tools.Register(blockingTool("block", started))
			scripted = providertest.New(
				providertest.Script{Events: providertest.ToolResponse("",
					providertest.ToolCall{ID: "call_1", Name: "block", Input: `{"text":"first"}`},
					providertest.ToolCall{ID: "call_2", Name: "block", Input: `{"text":"second"}`},
				)},
				providertest.Script{Events: providertest.TextResponse("unused")},
			)
			proc := newProcessor()
			var once sync.Once
			rec.on = func(ev types.ProcessorEvent) {
				if ev.Type == types.PEToolStart {
					once.Do(func() { Expect(proc.Abort(sess.ID)).To(Succeed()) })
				}
			}

			result, err := proc.Process(ctx, sess.ID, "block twice", rec.callback)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.State).To(Equal(types.StateCancelled))
			Expect(rec.ofType(types.PEToolStart)).To(HaveLen(1))
			Expect(started).To(Receive(Equal("first")))
			Expect(started).NotTo(Receive())
			Expect(scripted.Requests()).To(HaveLen(1))

			results := toolResults(result.Messages)
			Expect(results).To(HaveLen(2))
			Expect(results[0].ToolUseID).To(Equal("call_1"))
			Expect(results[0].IsError).To(BeTrue())
			Expect(results[1].ToolUseID).To(Equal("call_2"))
			Expect(results[1].IsError).To(BeTrue())
			Expect(results[1].Output).To(Equal("tool call cancelled before execution"))

			stored, err := store.Get(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(types.SessionCancelled))
			Expect(stored.Messages[1].Content).To(ContainElement(And(
				HaveField("ID", "call_2"),
				HaveField("Status", types.ToolCancelled),
			)))
		})

		It("withdraws an unanswered permission question", func() {
			policy = permission.Policy{Default: permission.ModeAsk}
			asker = permission.NewAsker(nil)
			scripted = providertest.New(
				providertest.Script{Events: providertest.ToolResponse("", providertest.ToolCall{ID: "call_1", Name: "echo", Input: `{"text":"x"}`})},
				providertest.Script{Events: providertest.TextResponse("unused")},
			)
			proc := newProcessor()
			rec.on = func(ev types.ProcessorEvent) {
				if ev.Type == types.PEPermissionAsk {
					Expect(proc.Abort(sess.ID)).To(Succeed())
				}
			}

			result, err := proc.Process(ctx, sess.ID, "echo x", rec.callback)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.State).To(Equal(types.StateCancelled))
			Expect(rec.ofType(types.PEPermissionAsk)).To(HaveLen(1))
			Expect(rec.ofType(types.PEToolStart)).To(BeEmpty())
			Expect(asker.PendingRequests("")).To(BeEmpty())

			results := toolResults(result.Messages)
			Expect(results).To(HaveLen(1))
			Expect(results[0].Output).To(Equal("permission request cancelled"))
		})

		It("rejects aborting a session that is not running", func() {
			scripted = providertest.New()
			Expect(newProcessor().Abort(sess.ID)).To(MatchError(ContainSubstring("not processing")))
		})
	})

	Describe("provider failures", func() {
		It("ends the turn failed and records the error", func() {
			scripted = providertest.New(providertest.Script{Events: []types.ChatEvent{
				types.MessageStartEvent("msg", "scripted"),
				types.TextStartEvent(0),
				types.TextDeltaEvent(0, "partial"),
				types.ErrorEvent(types.ErrVendor, "overloaded"),
			}})

			result, err := newProcessor().Process(ctx, sess.ID, "hi", rec.callback)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.State).To(Equal(types.StateFailed))
			Expect(result.Error.Kind).To(Equal(types.ErrVendor))
			Expect(rec.ofType(types.PEError)).To(HaveLen(1))

			stored, err := store.Get(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			reply := stored.Messages[1]
			Expect(reply.Status).To(Equal(types.MessageFailed))
			Expect(reply.Content).To(ContainElement(HaveField("Type", types.BlockError)))
		})

		It("treats a stream without message_stop as a protocol error", func() {
			scripted = providertest.New(providertest.Script{Events: []types.ChatEvent{
				types.MessageStartEvent("msg", "scripted"),
				types.TextStartEvent(0),
				types.TextDeltaEvent(0, "cut"),
			}})

			result, err := newProcessor().Process(ctx, sess.ID, "hi", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Error.Kind).To(Equal(types.ErrProtocol))
		})
	})

	Describe("working directory", func() {
		It("runs tools in the session's project directory", func() {
			project := GinkgoT().TempDir()
			other, err := store.Create(ctx, project, "")
			Expect(err).NotTo(HaveOccurred())
			tools.Register(tool.NewWriteTool(tools.WorkDir()))
			policy = permission.Policy{
				Default: permission.ModeDenyAll,
				Rules:   []permission.Rule{{Permission: permission.KindWrite, Pattern: "out/**", Action: permission.ActionAllow}},
			}
			scripted = providertest.New(
				providertest.Script{Events: providertest.ToolResponse("", providertest.ToolCall{
					ID:    "call_1",
					Name:  "write",
					Input: `{"filePath":"out/a.txt","content":"x"}`,
				})},
				providertest.Script{Events: providertest.TextResponse("written")},
			)

			result, err := newProcessor().Process(ctx, other.ID, "write a file", rec.callback)
			Expect(err).NotTo(HaveOccurred())
			results := toolResults(result.Messages)
			Expect(results).To(HaveLen(1))
			Expect(results[0].IsError).To(BeFalse(), results[0].Output)

			Expect(filepath.Join(project, "out", "a.txt")).To(BeARegularFile())
			Expect(filepath.Join(tools.WorkDir(), "out", "a.txt")).NotTo(BeAnExistingFile())
		})
	})

	Describe("concurrency", func() {
		It("rejects a second turn on a busy session", func() {
			scripted = providertest.New()
			release, err := store.Acquire(sess.ID)
			Expect(err).NotTo(HaveOccurred())
			defer release()

			_, err = newProcessor().Process(ctx, sess.ID, "hi", nil)
			Expect(err).To(MatchError(ErrSessionBusy))
		})

		It("fails for an unknown session", func() {
			scripted = providertest.New()
			_, err := newProcessor().Process(ctx, "missing", "hi", nil)
			Expect(err).To(MatchError(ErrSessionNotFound))
			Expect(filepath.Join(tools.WorkDir(), "session", "missing.turn.lock")).NotTo(BeAnExistingFile())
		})
	})

	Describe("compaction", func() {
		It("summarises old messages before calling the model", func() {
			long := strings.Repeat("context ", 50)
			for i := 0; i < 4; i++ {
				role := types.RoleUser
				if i%2 == 1 {
					role = types.RoleAssistant
				}
				Expect(store.AddMessage(ctx, sess.ID, types.Message{
					ID:      "old-" + string(rune('a'+i)),
					Role:    role,
					Content: []types.ContentBlock{types.NewTextBlock(long)},
					Status:  types.MessageComplete,
				})).To(Succeed())
			}
			scripted = providertest.New()
			providers := provider.NewRegistry(nil)
			providers.Register(scripted)
			proc := NewProcessor(Deps{
				Providers: providers,
				Tools:     tools,
				Store:     store,
				Policy:    policy,
				Compactor: &Compactor{Threshold: 100, KeepRecent: 2, CharsPerToken: 4},
			}, opts)

			_, err := proc.Process(ctx, sess.ID, "continue", rec.callback)
			Expect(err).NotTo(HaveOccurred())

			compacted := rec.ofType(types.PECompacted)
			Expect(compacted).To(HaveLen(1))
			Expect(compacted[0].Message.Synthetic).To(BeTrue())

			sent := scripted.Requests()[0].Messages
			Expect(sent[0].ID).To(Equal("compaction-old-d"))
			Expect(sent).To(HaveLen(3))

			stored, err := store.Get(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Compaction).NotTo(BeNil())
			Expect(stored.Compaction.BoundaryMessageID).To(Equal("old-d"))
			Expect(stored.Messages).To(HaveLen(6))
		})

		It("fails the turn when the summary cannot be recorded", func() {
			long := strings.Repeat("context ", 50)
			for i := 0; i < 4; i++ {
				Expect(store.AddMessage(ctx, sess.ID, textMessage("old-"+string(rune('a'+i)), types.RoleUser, long))).To(Succeed())
			}
			// Renaming the messages under the compactor leaves the summary
			// no boundary to point at.
			rename := func() {
				stored, err := store.Get(ctx, sess.ID)
				Expect(err).NotTo(HaveOccurred())
				for i := range stored.Messages {
					stored.Messages[i].ID = "renamed-" + stored.Messages[i].ID
				}
				Expect(store.storage.Put(ctx, sessionKey(sess.ID), stored)).To(Succeed())
			}
			scripted = providertest.New()
			providers := provider.NewRegistry(nil)
			providers.Register(scripted)
			proc := NewProcessor(Deps{
				Providers: providers,
				Tools:     tools,
				Store:     store,
				Policy:    policy,
				Compactor: &Compactor{Threshold: 100, KeepRecent: 2, CharsPerToken: 4, Summarizer: hookSummarizer{before: rename}},
			}, opts)

			result, err := proc.Process(ctx, sess.ID, "continue", rec.callback)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.State).To(Equal(types.StateFailed))
			Expect(result.Error.Kind).To(Equal(types.ErrStorage))
			Expect(scripted.Requests()).To(BeEmpty())

			stored, err := store.Get(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(types.SessionFailed))
			Expect(proc.IsProcessing(sess.ID)).To(BeFalse())
		})
	})
})
