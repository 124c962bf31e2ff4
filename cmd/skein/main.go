// Package main provides the skein CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/richinex/skein/cli"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	catalogPath string
	verbose     bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "skein",
		Short: "Multi-provider chat orchestration with tools, caching, and resumable runs",
		Long: `skein answers chat queries through whichever LLM provider is healthy,
with automatic failover, a bounded tool loop, answer caching, and
checkpoints that let interrupted runs resume where they stopped.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML settings file")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Path to YAML catalog for the lookup tool")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")

	// Add commands
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(feedbackCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func options() cli.Options {
	return cli.Options{
		ConfigPath:  configPath,
		CatalogPath: catalogPath,
		Verbose:     verbose,
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (SSE chat and feedback endpoints)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Serve(context.Background(), options())
		},
	}
}

func chatCmd() *cobra.Command {
	var conversationID string
	var userID string
	var mode string
	var resumeID string

	cmd := &cobra.Command{
		Use:   "chat [query]",
		Short: "Chat from the terminal",
		Long: `Chat from the terminal. With a query argument, answers once and
exits; without one, starts an interactive session.

Modes:
- fast: no tools, single model call, tight deadline
- auto: tools when the question needs them (default)
- extended: full tool budget and the longest deadline`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := cli.ChatParams{
				ConversationID: conversationID,
				UserID:         userID,
				Mode:           mode,
				ResumeID:       resumeID,
			}
			if len(args) == 1 {
				return cli.Ask(context.Background(), args[0], params, options())
			}
			return cli.Chat(context.Background(), params, options())
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation ID to continue (default: new)")
	cmd.Flags().StringVar(&userID, "user", "", "User ID for rate limiting (default: local)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "auto", "Execution mode (fast, auto, extended)")
	cmd.Flags().StringVar(&resumeID, "resume", "", "Request ID of a checkpointed run to resume")

	return cmd
}

func feedbackCmd() *cobra.Command {
	var query string
	var mode string
	var down bool
	var comment string

	cmd := &cobra.Command{
		Use:   "feedback [message-id]",
		Short: "Record feedback for an answer",
		Long: `Record feedback for an answer by its message ID (printed by chat
with --verbose). Positive feedback reinforces the cached answer;
negative feedback evicts it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Feedback(context.Background(), args[0], query, mode, !down, comment, options())
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "The query the answer was for (needed to locate the cache entry)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "auto", "Execution mode the answer ran in")
	cmd.Flags().BoolVar(&down, "down", false, "Record negative feedback")
	cmd.Flags().StringVar(&comment, "comment", "", "Optional free-form comment")

	return cmd
}
