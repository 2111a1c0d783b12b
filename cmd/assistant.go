package cmd

import (
	"github.com/spf13/cobra"

	"github.com/agentic-research/prodhub/internal/assistant"
)

// version is stamped by the build; "dev" otherwise.
var version = "dev"

func init() {
	rootCmd.AddCommand(assistantCmd)
}

var assistantCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Serve reporting tools over MCP on stdio",
	Long: `Runs an MCP (Model Context Protocol) server on stdin/stdout exposing
the reporting operations as tools, for use by conversational clients.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		return assistant.New(a.svc, version).ServeStdio()
	},
}
