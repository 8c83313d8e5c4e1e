package headless

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/codeagent/internal/permission"
	"github.com/opencode-ai/codeagent/internal/provider"
	"github.com/opencode-ai/codeagent/internal/provider/providertest"
	"github.com/opencode-ai/codeagent/internal/session"
	"github.com/opencode-ai/codeagent/internal/storage"
	"github.com/opencode-ai/codeagent/internal/tool"
	"github.com/opencode-ai/codeagent/pkg/types"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type runEnv struct {
	dir       string
	store     *session.Store
	processor *session.Processor
	scripted  *providertest.Provider
	asker     *permission.Asker
}

func newRunEnv(t *testing.T, mode permission.Mode, scripts ...providertest.Script) *runEnv {
	t.Helper()
	dir := t.TempDir()
	store := session.NewStore(storage.New(filepath.Join(dir, "data")), nil)
	scripted := providertest.New(scripts...)
	providers := provider.NewRegistry(nil)
	providers.Register(scripted)
	asker := permission.NewAsker(nil)
	processor := session.NewProcessor(session.Deps{
		Providers: providers,
		Tools:     tool.DefaultRegistry(dir),
		Store:     store,
		Policy:    permission.Policy{Default: mode},
		Asker:     asker,
	}, session.Options{Model: "mock/scripted"})
	return &runEnv{dir: dir, store: store, processor: processor, scripted: scripted, asker: asker}
}

func (e *runEnv) runner(out *bytes.Buffer, format OutputFormat, prompter *Prompter) *Runner {
	return &Runner{
		Store:     e.store,
		Processor: e.processor,
		Printer:   NewPrinter(out, format, false, false, prompter),
	}
}

func TestRunner_TextTurn(t *testing.T) {
	env := newRunEnv(t, permission.ModeAllowAll,
		providertest.Script{Events: providertest.TextResponse("Hello", " world")})
	var out bytes.Buffer

	res, err := env.runner(&out, OutputText, nil).Run(context.Background(), &Config{
		Prompt:  "say hello",
		WorkDir: env.dir,
		Model:   "mock/scripted",
	})
	require.NoError(t, err)

	assert.Equal(t, "success", res.Status)
	assert.Equal(t, ExitSuccess, res.ExitCode)
	assert.Equal(t, "Hello world", res.FinalMessage)
	assert.Equal(t, "mock/scripted", res.Model)
	assert.Equal(t, 1, res.Steps)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 5, res.Usage.OutputTokens)

	assert.True(t, strings.HasPrefix(out.String(), "Hello world\n"))
	assert.Contains(t, out.String(), "[success] session")

	sess, err := env.store.Get(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, env.dir, sess.ProjectPath)
	assert.Len(t, sess.Messages, 2)
}

func TestRunner_ContinueLast(t *testing.T) {
	env := newRunEnv(t, permission.ModeAllowAll)
	ctx := context.Background()
	var out bytes.Buffer

	first, err := env.runner(&out, OutputText, nil).Run(ctx, &Config{Prompt: "one", WorkDir: env.dir})
	require.NoError(t, err)

	second, err := env.runner(&out, OutputText, nil).Run(ctx, &Config{Prompt: "two", WorkDir: env.dir, ContinueLast: true})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	third, err := env.runner(&out, OutputText, nil).Run(ctx, &Config{Prompt: "three", WorkDir: env.dir, SessionID: first.SessionID})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, third.SessionID)

	sess, err := env.store.Get(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 6)
}

func TestRunner_InputErrors(t *testing.T) {
	env := newRunEnv(t, permission.ModeAllowAll)
	ctx := context.Background()
	var out bytes.Buffer

	res, err := env.runner(&out, OutputText, nil).Run(ctx, &Config{Prompt: "  ", WorkDir: env.dir})
	require.Error(t, err)
	assert.Equal(t, ExitInvalidInput, res.ExitCode)

	res, err = env.runner(&out, OutputText, nil).Run(ctx, &Config{Prompt: "hi", SessionID: "missing"})
	require.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.Equal(t, ExitSessionNotFound, res.ExitCode)

	res, err = env.runner(&out, OutputText, nil).Run(ctx, &Config{Prompt: "hi", Files: []string{filepath.Join(env.dir, "nope.txt")}})
	require.Error(t, err)
	assert.Equal(t, ExitInvalidInput, res.ExitCode)
	assert.Empty(t, env.scripted.Requests())
}

func TestRunner_StdinAndFiles(t *testing.T) {
	env := newRunEnv(t, permission.ModeAllowAll)
	file := filepath.Join(env.dir, "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("remember the milk"), 0644))
	var out bytes.Buffer

	r := env.runner(&out, OutputText, nil)
	r.Stdin = strings.NewReader("piped input\n")
	_, err := r.Run(context.Background(), &Config{
		Prompt:    "summarize",
		WorkDir:   env.dir,
		ReadStdin: true,
		Files:     []string{file},
	})
	require.NoError(t, err)

	reqs := env.scripted.Requests()
	require.Len(t, reqs, 1)
	prompt := types.PlainText(reqs[0].Messages[0].Content)
	assert.Equal(t, "summarize\n\npiped input\n\n--- File: "+file+" ---\nremember the milk", prompt)
}

func TestRunner_PermissionPrompt(t *testing.T) {
	target := "out.txt"
	for _, tt := range []struct {
		answer  string
		written bool
	}{
		{"y\n", true},
		{"n\n", false},
		{"", false},
	} {
		t.Run(strings.TrimSpace(tt.answer), func(t *testing.T) {
			env := newRunEnv(t, permission.ModeAsk,
				providertest.Script{Events: providertest.ToolResponse("Writing.", providertest.ToolCall{
					ID: "call_1", Name: "write", Input: `{"filePath":"` + target + `","content":"data"}`,
				})},
				providertest.Script{Events: providertest.TextResponse("Finished.")},
			)
			var out, prompts bytes.Buffer
			prompter := NewPrompter(env.asker, strings.NewReader(tt.answer), &prompts)

			res, err := env.runner(&out, OutputText, prompter).Run(context.Background(), &Config{Prompt: "write it", WorkDir: env.dir})
			require.NoError(t, err)
			assert.Equal(t, ExitSuccess, res.ExitCode)
			assert.Contains(t, prompts.String(), "write wants write access to")

			_, statErr := os.Stat(filepath.Join(env.dir, target))
			assert.Equal(t, tt.written, statErr == nil)

			require.Len(t, res.ToolCalls, 1)
			assert.Equal(t, "write", res.ToolCalls[0].Tool)
			assert.Equal(t, !tt.written, res.ToolCalls[0].IsError)
			assert.Contains(t, out.String(), "→ tool write "+target)
		})
	}
}

func TestRunner_JSONFormat(t *testing.T) {
	env := newRunEnv(t, permission.ModeAllowAll,
		providertest.Script{Events: []types.ChatEvent{
			types.MessageStartEvent("msg", "scripted"),
			types.ErrorEvent(types.ErrAuthentication, "invalid x-api-key"),
		}})
	var out bytes.Buffer

	res, err := env.runner(&out, OutputJSON, nil).Run(context.Background(), &Config{Prompt: "hi", WorkDir: env.dir})
	require.NoError(t, err)
	assert.Equal(t, ExitProviderError, res.ExitCode)

	var printed Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	assert.Equal(t, "error", printed.Status)
	assert.Equal(t, "invalid x-api-key", printed.Error)
	assert.Equal(t, ExitProviderError, printed.ExitCode)
}

func TestRunner_Cancelled(t *testing.T) {
	env := newRunEnv(t, permission.ModeAllowAll,
		providertest.Script{Events: providertest.TextResponse("partial")[:3], Hang: true})
	sess, err := env.store.Create(context.Background(), env.dir, "")
	require.NoError(t, err)
	var out bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for !env.processor.IsProcessing(sess.ID) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	res, err := env.runner(&out, OutputJSONL, nil).Run(ctx, &Config{Prompt: "go", SessionID: sess.ID})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", res.Status)
	assert.Equal(t, ExitCancelled, res.ExitCode)

	stored, err := env.store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCancelled, stored.Status)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev), line)
	}
}
