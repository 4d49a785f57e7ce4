package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "openchain",
		Short:         "Recommend GitHub users and repositories by scale and similarity",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(recommendCmd())
	root.AddCommand(scaleCmd())
	root.AddCommand(explainCmd())
	root.AddCommand(relateCmd())
	root.AddCommand(analyzeCmd())

	return root
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with background cache maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func recommendCmd() *cobra.Command {
	var (
		kind, find string
		count      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "recommend NAME",
		Short: "Build a recommendation graph for a user or owner/repo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecommend(kind, args[0], find, count, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&kind, "type", "user", "subject type: user or repo")
	cmd.Flags().StringVar(&find, "find", "user", "what to recommend: user or repo")
	cmd.Flags().IntVar(&count, "count", 0, "max nodes besides the center (default: all tiers)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func scaleCmd() *cobra.Command {
	var (
		kind       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "scale NAME",
		Short: "Show the scale score of a user or owner/repo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScale(kind, args[0], jsonOutput)
		},
	}

	cmd.Flags().StringVar(&kind, "type", "user", "entity type: user or repo")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func explainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain [TOPIC [MODE]]",
		Short: "Describe how scale, similarity, pools and node types are computed",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var topic, mode string
			if len(args) > 0 {
				topic = args[0]
			}
			if len(args) > 1 {
				mode = args[1]
			}
			return runExplain(topic, mode)
		},
	}
}

func relateCmd() *cobra.Command {
	var kind, find string

	cmd := &cobra.Command{
		Use:   "relate NAME TARGET",
		Short: "Ask the configured language model why two entities relate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelate(kind, args[0], find, args[1])
		},
	}

	cmd.Flags().StringVar(&kind, "type", "user", "subject type: user or repo")
	cmd.Flags().StringVar(&find, "find", "repo", "target type: user or repo")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var (
		kind       string
		count      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "analyze NAME",
		Short: "Show a repository's dependencies and contributors, or a user's top repositories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(kind, args[0], count, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&kind, "type", "repo", "subject type: user or repo")
	cmd.Flags().IntVar(&count, "count", 0, "max nodes per group (default 5)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
