package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/openloop-ai/openloop/internal/config"
	"github.com/openloop-ai/openloop/internal/history"
	"github.com/openloop-ai/openloop/internal/logging"
	"github.com/openloop-ai/openloop/internal/provider"
	"github.com/openloop-ai/openloop/internal/server"
	"github.com/openloop-ai/openloop/internal/storage"
	"github.com/openloop-ai/openloop/internal/tool"
	"github.com/openloop-ai/openloop/internal/turn"
	"github.com/openloop-ai/openloop/pkg/types"
)

var (
	runModel      string
	runBaseURL    string
	runSession    string
	runContinue   bool
	runDir        string
	runAutonomous bool
	runMonitor    string
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Run an agent task",
	Long: `Run an agent task against the configured model.

Examples:
  openloop run "Fix the bug in main.go"
  openloop run --model gpt-4o-mini "Explain this code"
  openloop run --continue "Now add tests"
  openloop run --autonomous "Refactor the parser package"`,
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model identifier")
	runCmd.Flags().StringVar(&runBaseURL, "base-url", "", "OpenAI-compatible API base URL")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session ID to continue")
	runCmd.Flags().BoolVarP(&runContinue, "continue", "c", false, "Continue the most recent session")
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
	runCmd.Flags().BoolVar(&runAutonomous, "autonomous", false, "Enable the checklist completion gate")
	runCmd.Flags().StringVar(&runMonitor, "monitor", "", "Also serve the monitor API on this address")
}

func runTask(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if runModel != "" {
		cfg.Model.Name = runModel
	}
	if runBaseURL != "" {
		cfg.Model.BaseURL = runBaseURL
	}
	if runAutonomous {
		cfg.Runtime.Autonomous = true
	}
	if cfg.Runtime.Autonomous && cfg.Runtime.FinalOutputTool == "" {
		cfg.Runtime.FinalOutputTool = "finish"
	}
	if runMonitor != "" {
		cfg.Monitor.Enabled = true
		cfg.Monitor.Addr = runMonitor
	}

	message := strings.Join(args, " ")
	if message == "" && !runContinue && runSession == "" {
		return fmt.Errorf("message required. Usage: openloop run \"your task\"")
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = paths.StoragePath()
	}
	store := storage.New(dataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prov, err := provider.NewOpenAI(provider.OpenAIConfig{
		BaseURL:   cfg.Model.BaseURL,
		APIKey:    cfg.Model.APIKey,
		APIKeyEnv: cfg.Model.APIKeyEnv,
		Model:     cfg.Model.Name,
		MaxTokens: cfg.Model.MaxTokens,
	})
	if err != nil {
		return err
	}

	window, sessionID, err := openWindow(ctx, store, cfg, prov)
	if err != nil {
		return err
	}

	dispatcher := tool.NewDispatcher(tool.NewContext(sessionID, workDir, store))
	defer dispatcher.Context().Close(context.Background())

	if window.Len() == 0 {
		window.Append(types.Message{
			Role:    types.RoleSystem,
			Content: buildSystemPrompt(dispatcher, cfg),
		})
	}

	if cfg.Monitor.Enabled {
		startMonitor(cfg, store)
	}

	controller := turn.NewController(turn.Options{
		Provider:   prov,
		Window:     window,
		Dispatcher: dispatcher,
		Runtime:    cfg.Runtime,
		Sink: func(text string) {
			fmt.Print(text)
		},
	})
	defer controller.Close()

	log := logging.For("cli")
	log.Info().
		Str("session", sessionID).
		Str("model", prov.Model()).
		Bool("autonomous", cfg.Runtime.Autonomous).
		Msg("starting run")

	outcome, err := controller.Run(ctx, message)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}

	log.Info().
		Str("session", sessionID).
		Int("turns", outcome.Turns).
		Int("tool_calls", outcome.ToolCalls).
		Int("auto_continues", outcome.AutoContinues).
		Msg("run finished")
	return nil
}

// openWindow resumes an existing session or creates a fresh one.
func openWindow(ctx context.Context, store *storage.Storage, cfg *types.Config, summarizer provider.Provider) (*history.Window, string, error) {
	sessionID := runSession
	if sessionID == "" && runContinue {
		latest, err := latestSessionID(ctx, store)
		if err != nil {
			return nil, "", err
		}
		sessionID = latest
	}

	histCfg := history.Config{
		ModelLimit: cfg.Runtime.ModelLimit,
		KeepRecent: cfg.Runtime.KeepRecentTurns,
		Summarizer: provider.NewSummarizer(summarizer),
		Store:      store,
		Dehydrate:  cfg.Runtime.Dehydrate,
	}

	if sessionID != "" {
		histCfg.SessionID = sessionID
		window, err := history.Load(ctx, store, histCfg)
		if err != nil {
			return nil, "", fmt.Errorf("resume session %s: %w", sessionID, err)
		}
		return window, sessionID, nil
	}

	sessionID = "sess_" + ulid.Make().String()
	histCfg.SessionID = sessionID
	return history.New(histCfg), sessionID, nil
}

// latestSessionID finds the most recently updated persisted session.
func latestSessionID(ctx context.Context, store *storage.Storage) (string, error) {
	var latest string
	var latestUpdated int64
	err := store.Scan(ctx, []string{"session-log"}, func(key string, data json.RawMessage) error {
		var log types.SessionLog
		if err := json.Unmarshal(data, &log); err != nil {
			return nil
		}
		if log.Updated >= latestUpdated {
			latest = log.SessionID
			latestUpdated = log.Updated
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if latest == "" {
		return "", fmt.Errorf("no previous session to continue")
	}
	return latest, nil
}

func startMonitor(cfg *types.Config, store *storage.Storage) {
	srvCfg := server.DefaultConfig()
	if cfg.Monitor.Addr != "" {
		srvCfg.Addr = cfg.Monitor.Addr
	}
	srv := server.New(srvCfg, store)
	go func() {
		log := logging.For("server")
		log.Info().Str("addr", srvCfg.Addr).Msg("monitor listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("monitor server stopped")
		}
	}()
}
