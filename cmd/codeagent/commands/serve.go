package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/codeagent/internal/event"
	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/internal/permission"
	"github.com/opencode-ai/codeagent/internal/server"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
	serveNoCORS   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start codeagent as a server that exposes sessions over HTTP.

Messages stream back as server-sent events, permission questions are answered
through the /permission endpoints and /event streams every bus event.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "127.0.0.1", "Hostname to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false, "Disable CORS headers")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(ctx, workDir, engineOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	serverConfig := server.DefaultConfig()
	serverConfig.Host = serveHostname
	serverConfig.Port = servePort
	serverConfig.Directory = workDir
	serverConfig.EnableCORS = !serveNoCORS

	srv := server.New(serverConfig, server.Deps{
		Store:     e.store,
		Processor: e.processor,
		Providers: e.providers,
		Tools:     e.tools,
		Asker:     e.asker,
		Bus:       e.bus,
		MCP:       e.mcp,
	})

	logging.Info().
		Str("version", Version).
		Str("directory", workDir).
		Str("permission", string(e.policy.Default)).
		Msg("starting server")
	if e.policy.Default == permission.ModeAsk {
		logging.Info().Msg("tool calls wait for POST /permission/{requestID}")
		e.bus.Subscribe(event.PermissionAsked, func(ev event.Event) {
			if d, ok := ev.Data.(event.PermissionAskedData); ok {
				logging.Info().Str("id", d.ID).Str("session", d.SessionID).
					Str("permission", d.Permission).Str("target", d.Target).
					Msg("permission requested")
			}
		})
	}

	if err := srv.Run(ctx); err != nil {
		return err
	}
	logging.Info().Msg("server stopped")
	return nil
}
