package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/visor-agent/visor/internal/config"
	"github.com/visor-agent/visor/internal/gateway"
	"github.com/visor-agent/visor/internal/logger"
	"github.com/visor-agent/visor/internal/tracing"
	"github.com/visor-agent/visor/pkg/agent"
	"github.com/visor-agent/visor/pkg/capture"
	"github.com/visor-agent/visor/pkg/events"
	"github.com/visor-agent/visor/pkg/runner"
	"github.com/visor-agent/visor/pkg/session"
	"github.com/visor-agent/visor/pkg/tools"
	"github.com/visor-agent/visor/pkg/verify"
)

var (
	runSession  string
	runContinue bool
	runNoVerify bool
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run an automation task",
	Long: `Run a task through the step loop until the model stops requesting
tool calls or the step budget is exhausted. With --continue and --session,
the task is appended to an existing session instead of starting a new one.`,
	Args: cobra.ExactArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runSession, "session", "", "session id (generated when empty)")
	runCmd.Flags().BoolVar(&runContinue, "continue", false, "continue an existing session")
	runCmd.Flags().BoolVar(&runNoVerify, "no-verify", false, "disable action verification")
	rootCmd.AddCommand(runCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer lg.Close()
	zl := lg.Zerolog()

	if err := tracing.Init("visor", GetVersion()); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tracing.Shutdown(context.Background())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider, err := agent.NewProvider(cfg.Provider.Name, cfg.Provider.APIKey)
	if err != nil {
		return err
	}

	store, err := newStore(cfg, zl)
	if err != nil {
		return err
	}

	screen, err := capture.NewScreen(capture.Options{
		Headless:   cfg.Browser.Headless,
		ChromePath: cfg.Browser.ChromePath,
		StartURL:   cfg.Browser.StartURL,
		NoSandbox:  cfg.Browser.NoSandbox,
	}, zl)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer screen.Close()

	registry := tools.NewRegistry(zl)
	if err := capture.RegisterScreenTools(registry, screen); err != nil {
		return err
	}

	var gate *verify.Gate
	if cfg.Verify.Enabled && !runNoVerify {
		judge := verify.NewProviderJudge(newJudgeProvider(cfg, provider), judgeSettings(cfg))
		gate = verify.NewGate(screen, judge, verify.Options{
			Enabled:    true,
			MaxRetries: cfg.Verify.MaxRetries,
			RetryDelay: cfg.Verify.RetryDelay(),
		}, zl)
	}

	sink, stopGateway, err := newSink(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer stopGateway()

	r, err := runner.NewRunner(runner.Config{
		Provider: provider,
		Registry: registry,
		Store:    store,
		Gate:     gate,
		Sink:     sink,
		Logger:   zl,
	})
	if err != nil {
		return err
	}

	settings := agent.Settings{
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
		MaxTokens:   cfg.Provider.MaxTokens,
	}
	opts := agent.Options{
		MaxSteps:       cfg.Run.MaxSteps,
		Verify:         gate != nil,
		MaxVerifyTries: cfg.Verify.MaxRetries,
		QueuePolicy:    agent.QueuePolicy(cfg.Run.QueuePolicy),
	}

	var result *agent.RunResult
	if runContinue {
		if runSession == "" {
			return fmt.Errorf("--continue requires --session")
		}
		result, err = r.ContinueSession(ctx, runSession, args[0], settings, opts)
	} else {
		result, err = r.Execute(ctx, runner.RunParams{
			SessionID: runSession,
			Task:      args[0],
			Settings:  settings,
			Options:   opts,
		})
	}
	if err != nil {
		return err
	}

	fmt.Println(result.Text)
	fmt.Printf("\nsession=%s stop=%s steps=%d tool_calls=%d tokens=%d/%d\n",
		result.SessionID, result.Stop, len(result.Steps), result.ToolCallCount,
		result.Usage.InputTokens, result.Usage.OutputTokens)
	return nil
}

func newStore(cfg *config.Config, zl zerolog.Logger) (session.Store, error) {
	switch cfg.Sessions.Backend {
	case "sqlite":
		return session.NewSQLiteStore(cfg.Sessions.DBPath, zl)
	default:
		return session.NewFileStore(cfg.Sessions.Dir, zl)
	}
}

// newJudgeProvider returns the judge's provider: the generation provider
// unless the config names a different one.
func newJudgeProvider(cfg *config.Config, fallback agent.Provider) agent.Provider {
	if cfg.Judge.Name == "" || cfg.Judge.Name == cfg.Provider.Name {
		return fallback
	}
	apiKey := cfg.Judge.APIKey
	if apiKey == "" {
		apiKey = cfg.Provider.APIKey
	}
	p, err := agent.NewProvider(cfg.Judge.Name, apiKey)
	if err != nil {
		return fallback
	}
	return p
}

func judgeSettings(cfg *config.Config) agent.Settings {
	model := cfg.Judge.Model
	if model == "" {
		model = cfg.Provider.Model
	}
	return agent.Settings{Model: model}
}

// newSink builds the event sink: the websocket broadcaster when the gateway
// is enabled, otherwise nil (events are dropped).
func newSink(ctx context.Context, cfg *config.Config, zl zerolog.Logger) (events.Handler, func(), error) {
	if !cfg.Gateway.Enabled {
		return nil, func() {}, nil
	}

	broadcaster := events.NewBroadcaster(zl)
	server, err := gateway.NewServer(cfg.Gateway.Addr, broadcaster, zl)
	if err != nil {
		return nil, nil, fmt.Errorf("start gateway: %w", err)
	}
	server.Start(ctx)

	return broadcaster.Handle, func() { server.Stop(context.Background()) }, nil
}
