package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/codeagent/internal/config"
	"github.com/opencode-ai/codeagent/internal/event"
	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/internal/mcp"
	"github.com/opencode-ai/codeagent/internal/permission"
	"github.com/opencode-ai/codeagent/internal/provider"
	"github.com/opencode-ai/codeagent/internal/session"
	"github.com/opencode-ai/codeagent/internal/storage"
	"github.com/opencode-ai/codeagent/internal/tool"
	"github.com/opencode-ai/codeagent/pkg/types"
)

// engine holds everything a command needs to run turns.
type engine struct {
	config    *types.Config
	workDir   string
	bus       *event.Bus
	store     *session.Store
	providers *provider.Registry
	tools     *tool.Registry
	mcp       *mcp.Client
	asker     *permission.Asker
	policy    permission.Policy
	processor *session.Processor
}

// engineOptions override configuration from command-line flags.
type engineOptions struct {
	Model string
	// Mode replaces the configured default permission mode when set.
	Mode permission.Mode
	// NoMCP skips connecting MCP servers.
	NoMCP bool
}

// newStore opens the session store without the rest of the engine.
func newStore(workDir string) (*types.Config, *session.Store, error) {
	if err := config.GetPaths().EnsurePaths(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, nil, err
	}
	return cfg, session.NewStore(storage.New(config.StorageDir(cfg)), nil), nil
}

// newEngine loads configuration for workDir and wires the components.
func newEngine(ctx context.Context, workDir string, opts engineOptions) (*engine, error) {
	if err := config.GetPaths().EnsurePaths(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}
	if opts.Model != "" {
		cfg.Model = opts.Model
	}

	policy, err := permission.PolicyFromConfig(cfg.Permission)
	if err != nil {
		return nil, err
	}
	if opts.Mode != "" {
		policy.Default = opts.Mode
	}

	e := &engine{
		config:    cfg,
		workDir:   workDir,
		bus:       event.NewBus(),
		providers: provider.InitializeProviders(ctx, cfg),
		tools:     tool.DefaultRegistry(workDir),
		policy:    policy,
	}
	e.bus.SubscribeAll(logEvent)
	e.store = session.NewStore(storage.New(config.StorageDir(cfg)), e.bus)
	e.asker = permission.NewAsker(e.bus)

	if len(cfg.MCP) > 0 && !opts.NoMCP {
		e.mcp = mcp.NewClient()
		e.connectMCP(ctx)
		e.tools.RegisterProvider(e.mcp)
	}

	e.processor = session.NewProcessor(session.Deps{
		Providers: e.providers,
		Tools:     e.tools,
		Store:     e.store,
		Policy:    policy,
		Asker:     e.asker,
		Compactor: session.NewCompactor(cfg.Compaction, e.summarizer()),
		Bus:       e.bus,
	}, e.processorOptions())

	logging.Debug().
		Str("workDir", workDir).
		Str("model", cfg.Model).
		Str("permission", string(policy.Default)).
		Int("providers", len(e.providers.List())).
		Msg("engine ready")
	return e, nil
}

// logEvent traces bus traffic in the debug log.
func logEvent(ev event.Event) {
	logging.Component("event").Debug().Str("type", string(ev.Type)).Interface("data", ev.Data).Msg("event")
}

// connectMCP connects the configured servers concurrently. A server that
// fails is logged and left out.
func (e *engine) connectMCP(ctx context.Context) {
	var g errgroup.Group
	for name, c := range e.config.MCP {
		g.Go(func() error {
			if err := e.mcp.AddServer(ctx, name, mcp.ConfigFromTypes(c)); err != nil {
				logging.Warn().Err(err).Str("server", name).Msg("skipping mcp server")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// summarizer picks the compaction summarizer. The model summarizer uses the
// small model when one is configured and falls back to the heuristic one.
func (e *engine) summarizer() session.Summarizer {
	heuristic := session.HeuristicSummarizer{}
	if e.config.Compaction != nil && e.config.Compaction.Summarizer == "heuristic" {
		return heuristic
	}
	model := e.config.SmallModel
	if model == "" {
		model = e.config.Model
	}
	p, modelID, err := e.providers.Resolve(model)
	if err != nil {
		logging.Debug().Err(err).Msg("no summary model, using heuristic summaries")
		return heuristic
	}
	return &session.ProviderSummarizer{Provider: p, Model: modelID, Fallback: heuristic}
}

func (e *engine) processorOptions() session.Options {
	cfg := e.config
	opts := session.Options{
		Model:        cfg.Model,
		Instructions: cfg.Instructions,
		EnabledTools: cfg.Tools,
	}
	if a := cfg.Agent; a != nil {
		opts.SystemPrompt = a.Prompt
		opts.MaxSteps = a.MaxSteps
		opts.Temperature = a.Temperature
		opts.MaxTokens = a.MaxTokens
		if a.ParallelTools != nil {
			opts.ParallelTools = *a.ParallelTools
		}
	}
	if cfg.Timeouts != nil && cfg.Timeouts.Tool != "" {
		if d, err := time.ParseDuration(cfg.Timeouts.Tool); err == nil {
			opts.ToolTimeout = d
		} else {
			logging.Warn().Str("value", cfg.Timeouts.Tool).Msg("invalid tool timeout, using default")
		}
	}
	return opts
}

// Close disconnects MCP servers and stops the event bus.
func (e *engine) Close() error {
	var errs []error
	if e.mcp != nil {
		if err := e.mcp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp: %w", err))
		}
	}
	if err := e.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("event bus: %w", err))
	}
	return errors.Join(errs...)
}
