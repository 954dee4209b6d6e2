package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/visor-agent/visor/internal/config"
	"github.com/visor-agent/visor/pkg/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one session's transcript summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openStore() (session.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newStore(cfg, zerolog.Nop())
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	summaries, err := store.List(context.Background())
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	for _, s := range summaries {
		fmt.Printf("%-36s  %-24s  messages=%-4d tool_calls=%-4d updated=%s\n",
			s.ID, s.Model, s.MessageCount, s.ToolCallCount, s.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	sess, err := store.Load(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("id:          %s\n", sess.ID)
	fmt.Printf("model:       %s\n", sess.Model)
	fmt.Printf("status:      %s\n", sess.Metadata.Status)
	fmt.Printf("messages:    %d\n", len(sess.Messages))
	fmt.Printf("tool calls:  %d\n", sess.Metadata.ToolCallCount)
	fmt.Printf("tokens:      %d in / %d out\n", sess.Metadata.InputTokens, sess.Metadata.OutputTokens)
	fmt.Printf("duration:    %s\n", sess.Metadata.Duration)
	fmt.Printf("updated:     %s\n", sess.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	if err := store.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s\n", args[0])
	return nil
}
