package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func buildRootCommand() *cobra.Command {
	var dbPath string

	root := &cobra.Command{
		Use:   "minne",
		Short: "Inspect and exercise a per-user long-term memory database",
		Long: strings.TrimSpace(`minne operates on the memory store used by a conversational agent:
log raw messages, review stable facts, add memory cards, and preview the
context block injected into prompts.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the memory database (default from MINNE_DB_PATH)")

	root.AddCommand(newLogCommand(&dbPath))
	root.AddCommand(newFactsCommand(&dbPath))
	root.AddCommand(newContextCommand(&dbPath))
	root.AddCommand(newRememberCommand(&dbPath))
	root.AddCommand(newPruneCommand(&dbPath))
	return root
}

func newLogCommand(dbPath *string) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:     "log <user-id> <text...>",
		Short:   "Record one message into a user's message log",
		Example: "  minne log 42 --role user \"I moved to Berlin in March\"",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*dbPath)
			if err != nil {
				return err
			}
			defer svc.Close()

			userID := args[0]
			content := strings.Join(args[1:], " ")
			if err := svc.RecordMessage(context.Background(), userID, role, content); err != nil {
				return err
			}
			if changed, err := svc.UpdateFactsFromText(context.Background(), userID, content); err != nil {
				return err
			} else if changed {
				fmt.Println("facts updated")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "user", "Message role: user, assistant or system")
	return cmd
}

func newFactsCommand(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "facts <user-id>",
		Short:   "List a user's stable facts",
		Example: "  minne facts 42",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*dbPath)
			if err != nil {
				return err
			}
			defer svc.Close()

			facts, err := svc.Facts(context.Background(), args[0])
			if err != nil {
				return err
			}
			for _, f := range facts {
				fmt.Printf("%s = %s (confidence %.2f)\n", f.Key, f.Value, f.Confidence)
			}
			return nil
		},
	}
}

func newContextCommand(dbPath *string) *cobra.Command {
	var maxEpisodes int

	cmd := &cobra.Command{
		Use:     "context <user-id> <query...>",
		Short:   "Preview the prompt-injection block for a query",
		Example: "  minne context 42 what do I enjoy outdoors",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*dbPath)
			if err != nil {
				return err
			}
			defer svc.Close()

			block := svc.BuildContext(context.Background(), args[0], strings.Join(args[1:], " "), maxEpisodes)
			if block == "" {
				fmt.Println("(no memory context)")
				return nil
			}
			fmt.Println(block)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxEpisodes, "max-episodes", 0, "Episode cap for the block (0 = configured default)")
	return cmd
}

func newRememberCommand(dbPath *string) *cobra.Command {
	var (
		tags       []string
		importance float64
		noEmbed    bool
	)

	cmd := &cobra.Command{
		Use:     "remember <user-id> <text...>",
		Short:   "Store a memory card directly",
		Example: "  minne remember 42 --tags travel,berlin \"mentioned moving to Berlin in March\"",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*dbPath)
			if err != nil {
				return err
			}
			defer svc.Close()

			return svc.AddEpisode(context.Background(), args[0], strings.Join(args[1:], " "), tags, importance, !noEmbed)
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Tags for the memory card")
	cmd.Flags().Float64Var(&importance, "importance", 0.5, "Importance in [0,1]")
	cmd.Flags().BoolVar(&noEmbed, "no-embed", false, "Skip embedding generation")
	return cmd
}

func newPruneCommand(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "prune <user-id>",
		Short:   "Enforce retention ceilings for a user now",
		Example: "  minne prune 42",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*dbPath)
			if err != nil {
				return err
			}
			defer svc.Close()
			return svc.Prune(context.Background(), args[0])
		},
	}
}
