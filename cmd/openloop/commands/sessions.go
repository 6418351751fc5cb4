package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openloop-ai/openloop/internal/config"
	"github.com/openloop-ai/openloop/internal/storage"
	"github.com/openloop-ai/openloop/pkg/types"
)

var sessionsJSON bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List persisted sessions",
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")
}

func runSessions(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = paths.StoragePath()
	}
	store := storage.New(dataDir)

	var logs []types.SessionLog
	err = store.Scan(context.Background(), []string{"session-log"}, func(key string, data json.RawMessage) error {
		var log types.SessionLog
		if err := json.Unmarshal(data, &log); err != nil {
			return nil
		}
		logs = append(logs, log)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].Updated > logs[j].Updated })

	if sessionsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(logs)
	}

	if len(logs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tUPDATED\tMESSAGES")
	for _, log := range logs {
		updated := time.UnixMilli(log.Updated).Format(time.RFC3339)
		fmt.Fprintf(w, "%s\t%s\t%d\n", log.SessionID, updated, len(log.ContextWindow.ConversationHistory))
	}
	return w.Flush()
}
